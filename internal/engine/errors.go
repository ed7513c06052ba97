package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeRuleLoad indicates rule definitions could not be read.
	ErrCodeRuleLoad ErrorCode = "RULE_LOAD"

	// ErrCodeTransactionLoad indicates transactions could not be read.
	ErrCodeTransactionLoad ErrorCode = "TRANSACTION_LOAD"

	// ErrCodeActionFailed indicates an action returned an error.
	ErrCodeActionFailed ErrorCode = "ACTION_FAILED"

	// ErrCodeInvalidAction indicates a stored action could not be parsed.
	ErrCodeInvalidAction ErrorCode = "INVALID_ACTION"

	// ErrCodeLogWrite indicates an execution-log flush failed.
	ErrCodeLogWrite ErrorCode = "LOG_WRITE"

	// ErrCodeTxBegin indicates the unit of work could not be opened.
	ErrCodeTxBegin ErrorCode = "TX_BEGIN"

	// ErrCodeTxCommit indicates the unit of work could not be committed.
	ErrCodeTxCommit ErrorCode = "TX_COMMIT"
)

// Error is an engine failure with diagnostic context.
//
// Only RULE_LOAD and TRANSACTION_LOAD are returned to callers of the
// Process methods. The other codes are confined to one (transaction, rule)
// pair and surface through the Report and the execution log.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RuleID identifies the affected rule, if any.
	RuleID int64

	// TransactionID identifies the affected transaction, if any.
	TransactionID int64

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RuleID != 0 && e.TransactionID != 0 {
		msg = fmt.Sprintf("%s (rule=%d, transaction=%d)", msg, e.RuleID, e.TransactionID)
	} else if e.RuleID != 0 {
		msg = fmt.Sprintf("%s (rule=%d)", msg, e.RuleID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is an engine Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}
