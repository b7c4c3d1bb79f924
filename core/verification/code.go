package verification

import (
	"crypto/rand"
	"strings"
)

const (
	// CodeAlphabet excludes the look-alike symbols 0, O, 1 and I.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

// GenerateCode returns CodeLength symbols drawn uniformly and independently from CodeAlphabet.
func GenerateCode() string {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("verification: reading random bytes: " + err.Error())
	}
	code := make([]byte, CodeLength)
	for i, b := range buf {
		// len(CodeAlphabet) == 32 divides 256: masking keeps the distribution uniform
		code[i] = CodeAlphabet[b&31]
	}
	return string(code)
}

// NormalizeCode drops every character that is not an ASCII letter or digit and uppercases the rest,
// so "abc-234", " ABC 234 " and "ABC234" are the same code.
func NormalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsValidCode reports whether code (already normalized) has the shape of a generated code.
func IsValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// FormatCode displays a code as "XXX-XXX". Partial input is formatted as far as it goes.
func FormatCode(code string) string {
	code = NormalizeCode(code)
	if len(code) > CodeLength {
		code = code[:CodeLength]
	}
	if len(code) <= 3 {
		return code
	}
	return code[:3] + "-" + code[3:]
}
