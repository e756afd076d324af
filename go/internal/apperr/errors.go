// Package apperr defines the error kinds shared by the settlement service so
// callers can branch on kind instead of message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindSecurity
	KindTransientProvider
	KindConcurrencyConflict
	KindPermanentFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindSecurity:
		return "security"
	case KindTransientProvider:
		return "transient_provider"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindPermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validationf builds a validation error from a format string.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsSecurity(err error) bool   { return KindOf(err) == KindSecurity }
func IsTransient(err error) bool  { return KindOf(err) == KindTransientProvider }
func IsConflict(err error) bool   { return KindOf(err) == KindConcurrencyConflict }

var (
	ErrAlreadyStarted      = New(KindValidation, "participant already started")
	ErrNotStarted          = New(KindValidation, "participant not started")
	ErrAlreadyPaused       = New(KindValidation, "participant already paused")
	ErrNotPaused           = New(KindValidation, "participant is not paused")
	ErrNotAllAnswered      = New(KindValidation, "not all questions answered")
	ErrAlreadyJoined       = New(KindValidation, "user already joined this round")
	ErrPauseNotAllowed     = New(KindValidation, "pause allowed only after question 3")
	ErrPaymentNotConfirmed = New(KindValidation, "payment not confirmed")
	ErrPaymentRequired     = New(KindValidation, "payment required before question 4")
	ErrWrongQuestion       = New(KindValidation, "answer is not for the current question")
	ErrParticipantFinished = New(KindValidation, "participant already finished")
	ErrRoundNotActive      = New(KindValidation, "round is not active")
	ErrDeviceMismatch      = New(KindSecurity, "device fingerprint mismatch")
	ErrInvalidSignature    = New(KindSecurity, "invalid webhook signature")
	ErrIPNotAllowed        = New(KindSecurity, "source ip not allowed")
	ErrVersionConflict     = New(KindConcurrencyConflict, "record modified concurrently")
	ErrRetriesExhausted    = New(KindPermanentFailure, "retries exhausted")
)
