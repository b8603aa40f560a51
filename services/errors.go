package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode is the machine-readable error class surfaced to handlers.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "validation_error"
	CodeAuthentication ErrorCode = "authentication_error"
	CodeAuthorization  ErrorCode = "authorization_error"
	CodeNotFound       ErrorCode = "not_found"
	CodeConflict       ErrorCode = "conflict"
	CodeStorage        ErrorCode = "storage_error"
	CodeInternal       ErrorCode = "internal_error"
)

// Well-known reasons within a code.
const (
	ReasonInsufficientPoints = "insufficient_points"
	ReasonAlreadyMaxLevel    = "max_level"
	ReasonNoBurnNeeded       = "no_burn_needed"
	ReasonSelfReferral       = "self_referral"
	ReasonAlreadyCompleted   = "already_completed"
	ReasonNotReferee         = "not_referee"
	ReasonUnknownLevel       = "unknown_level"

	// ReasonWriteRace marks a unique-key collision inside an open transaction.
	// The insert aborted the transaction, so the only safe recovery is to roll
	// back and re-enter; the retry's pre-checks then resolve the replay.
	ReasonWriteRace = "write_race"
)

// ServiceError is the terminal error shape for business failures. Reason is a
// stable discriminator within a code; Message is human-readable.
type ServiceError struct {
	Code    ErrorCode `json:"code"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
}

func newError(code ErrorCode, reason, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func validationError(reason, format string, args ...interface{}) *ServiceError {
	return newError(CodeValidation, reason, format, args...)
}

func notFoundError(reason, format string, args ...interface{}) *ServiceError {
	return newError(CodeNotFound, reason, format, args...)
}

func conflictError(reason, format string, args ...interface{}) *ServiceError {
	return newError(CodeConflict, reason, format, args...)
}

func authorizationError(reason, format string, args ...interface{}) *ServiceError {
	return newError(CodeAuthorization, reason, format, args...)
}

// storageError wraps a backing-store failure so withRetry can tell it apart
// from terminal business errors.
func storageError(err error) *ServiceError {
	return &ServiceError{Code: CodeStorage, Reason: "storage", Message: err.Error()}
}

// AsServiceError unwraps err to a *ServiceError if one is in the chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// withRetry runs fn, retrying only storage-class failures a bounded number of
// times with backoff. Validation/authorization/conflict errors are terminal
// and returned verbatim; exhausted storage retries surface as internal errors.
func withRetry(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if se, ok := AsServiceError(err); ok && se.Code != CodeStorage {
			return err
		}
		if !retryable(err) {
			break
		}
		time.Sleep(time.Duration(i*i+1) * 50 * time.Millisecond)
	}
	if se, ok := AsServiceError(err); ok && se.Code == CodeStorage {
		return newError(CodeInternal, "retries_exhausted", "storage retries exhausted: %s", se.Message)
	}
	return err
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := AsServiceError(err); ok && se.Code == CodeStorage {
		if se.Reason == ReasonWriteRace {
			return true
		}
		err = errors.New(se.Message)
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"deadlock", "serialize", "timeout", "connection", "broken pipe", "temporarily"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
