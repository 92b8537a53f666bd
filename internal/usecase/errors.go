package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorPreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrorCrypto             ErrorCode = "CRYPTO_ERROR"
	ErrorSerialization      ErrorCode = "SERIALIZATION_ERROR"
	ErrorStorage            ErrorCode = "STORAGE_ERROR"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error is the aggregate engine error: every failure below the service
// boundary is mapped into one of the codes above. STORAGE_ERROR is
// potentially transient; the rest need corrective action upstream.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
