package repository

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

type ErrorCode string

const (
	// ErrorNotFound is internal: callers see it as the close-on-absent
	// no-op, never as a returned error.
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorPreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrorSerialization      ErrorCode = "SERIALIZATION_ERROR"
	ErrorCrypto             ErrorCode = "CRYPTO_ERROR"
	ErrorStorage            ErrorCode = "STORAGE_ERROR"
)

// Error is the store's error envelope. Code drives caller retry policy:
// STORAGE_ERROR is potentially transient, everything else is not.
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
		return fmt.Sprintf("repository: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("repository: %s (%s): %v", e.Code, e.Reason, e.Err)
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

// CodeOf extracts the store error code, or STORAGE_ERROR for anything that
// escaped classification.
func CodeOf(err error) ErrorCode {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return ErrorStorage
}

// isConditionalCheckFailed reports whether err is a failed condition
// expression, either directly or as the cancellation reason of a
// transaction.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
