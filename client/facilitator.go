package client

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/maker/core/verification"
)

var (
	ErrIncompleteCode = errors.New("the code must have 6 characters")
	ErrBusy           = errors.New("a verification is already in progress")
)

type FacilitatorState int

const (
	StateInputIdle FacilitatorState = iota
	StateSubmitting
	StateSuccess
	StateError
)

func (s FacilitatorState) String() string {
	switch s {
	case StateInputIdle:
		return "idle"
	case StateSubmitting:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	}
	return "unknown"
}

type (
	// FacilitatorAPI is the part of the API the facilitator widget needs; *Client implements it.
	FacilitatorAPI interface {
		VerifyCode(ctx context.Context, code string) (verification.Verified, error)
	}

	FacilitatorSnapshot struct {
		State   FacilitatorState
		Code    string // normalized
		Display string // XXX-XXX
		Result  *verification.Verified
		Err     string
	}
)

// FacilitatorWidget lets a facilitator type a participant's code & verify it.
type FacilitatorWidget struct {
	api       FacilitatorAPI
	onSuccess func(verification.Verified)

	mu     sync.Mutex
	snap   FacilitatorSnapshot
	closed bool
}

// NewFacilitatorWidget returns an idle widget; onSuccess (optional) is called after each successful verification.
func NewFacilitatorWidget(api FacilitatorAPI, onSuccess func(verification.Verified)) *FacilitatorWidget {
	return &FacilitatorWidget{api: api, onSuccess: onSuccess}
}

func (w *FacilitatorWidget) Snapshot() FacilitatorSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Input replaces the typed code and returns what to display. Editing clears the last result.
func (w *FacilitatorWidget) Input(raw string) string {
	code := verification.NormalizeCode(raw)
	if len(code) > verification.CodeLength {
		code = code[:verification.CodeLength]
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.snap.Code = code
	w.snap.Display = verification.FormatCode(code)
	if w.snap.State == StateSuccess || w.snap.State == StateError {
		w.snap.State = StateInputIdle
		w.snap.Result = nil
		w.snap.Err = ""
	}
	return w.snap.Display
}

// CanSubmit tells whether the verify button is enabled.
func (w *FacilitatorWidget) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSubmit()
}

func (w *FacilitatorWidget) canSubmit() bool {
	return !w.closed && w.snap.State != StateSubmitting && len(w.snap.Code) == verification.CodeLength
}

// Submit verifies the typed code. It blocks until the API answers; the outcome is in the snapshot.
func (w *FacilitatorWidget) Submit(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case w.closed:
		w.mu.Unlock()
		return ErrClosed
	case w.snap.State == StateSubmitting:
		w.mu.Unlock()
		return ErrBusy
	case len(w.snap.Code) != verification.CodeLength:
		w.mu.Unlock()
		return ErrIncompleteCode
	}
	code := w.snap.Code
	w.snap.State = StateSubmitting
	w.snap.Result = nil
	w.snap.Err = ""
	w.mu.Unlock()

	res, err := w.api.VerifyCode(ctx, code)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		w.snap.State = StateError
		w.snap.Err = err.Error()
		w.mu.Unlock()
		return err
	}
	w.snap.State = StateSuccess
	w.snap.Result = &res
	w.mu.Unlock()

	if w.onSuccess != nil {
		w.onSuccess(res)
	}
	return nil
}

// Close unmounts the widget; a verification still in flight completes but its result is dropped.
func (w *FacilitatorWidget) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
