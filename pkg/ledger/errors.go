package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidBalance           = errors.New("invalid balance")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidDebitPlan         = errors.New("invalid debit plan")
	ErrInvalidConversationState = errors.New("invalid conversation state")
	ErrInvalidRuntimeConfig     = errors.New("invalid runtime config")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrReferrerAlreadySet       = errors.New("referrer already set")
	ErrReferralCreditReset      = errors.New("referral credit cannot be reset")
	ErrSelfReferral             = errors.New("self referral")
	ErrUnknownHold              = errors.New("unknown hold")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
