package verification

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code := GenerateCode()
		assert.Len(t, code, CodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected symbol %q in %s", r, code)
		}
		assert.True(t, IsValidCode(code))
		seen[code] = struct{}{}
	}
	// 32^6 possible codes: a handful of collisions at most
	assert.Greater(t, len(seen), 990)
}

func TestCodeAlphabet(t *testing.T) {
	assert.Len(t, CodeAlphabet, 32)
	for _, ambiguous := range "0O1I" {
		assert.False(t, strings.ContainsRune(CodeAlphabet, ambiguous), "%q must not be used", ambiguous)
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "ABC234", want: "ABC234"},
		{raw: "abc-234", want: "ABC234"},
		{raw: " abc 234 ", want: "ABC234"},
		{raw: "a.b_c/2#3*4", want: "ABC234"},
		{raw: "", want: ""},
		{raw: "---", want: ""},
		{raw: "ABCDEſ", want: "ABCDE"},
		{raw: "abcı234", want: "ABC234"},
		{raw: "ＡBC234", want: "BC234"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.raw))
		})
	}
}

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "valid", code: "ABC234", want: true},
		{name: "too short", code: "ABC23", want: false},
		{name: "too long", code: "ABC2345", want: false},
		{name: "lowercase", code: "abc234", want: false},
		{name: "excluded zero", code: "ABC230", want: false},
		{name: "excluded O", code: "ABO234", want: false},
		{name: "excluded one", code: "ABC231", want: false},
		{name: "excluded I", code: "ABI234", want: false},
		{name: "formatted", code: "ABC-234", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidCode(tt.code))
		})
	}
}

func TestFormatCode(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "abc234", want: "ABC-234"},
		{raw: "ab", want: "AB"},
		{raw: "abc", want: "ABC"},
		{raw: "abcd", want: "ABC-D"},
		{raw: "abc-234-xyz", want: "ABC-234"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCode(tt.raw))
		})
	}
}
