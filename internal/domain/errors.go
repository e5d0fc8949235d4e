package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Sequence Errors (SEQ_*)
	ErrorCodeDuplicateNumber    ErrorCode = "SEQ_DUPLICATE_NUMBER"
	ErrorCodeStaleCounter       ErrorCode = "SEQ_STALE_COUNTER"
	ErrorCodeSequenceRegression ErrorCode = "SEQ_REGRESSION"
	ErrorCodeReservationStarted ErrorCode = "SEQ_RESERVATION_STARTED"

	// Rendering Errors (RENDER_*)
	ErrorCodeTemplateLoad ErrorCode = "RENDER_TEMPLATE_LOAD"
	ErrorCodeRender       ErrorCode = "RENDER_FAILED"
	ErrorCodeSpool        ErrorCode = "RENDER_SPOOL_FAILED"

	// EFT Errors (EFT_*)
	ErrorCodeFormatter         ErrorCode = "EFT_FORMATTER"
	ErrorCodeFileWrite         ErrorCode = "EFT_FILE_WRITE"
	ErrorCodeEFTRejected       ErrorCode = "EFT_REJECTED"
	ErrorCodeEFTNotEnabled     ErrorCode = "EFT_NOT_ENABLED"
	ErrorCodeEFTNoRecipients   ErrorCode = "EFT_NO_ELIGIBLE_RECIPIENTS"
	ErrorCodeEFTKeyUnavailable ErrorCode = "EFT_KEY_UNAVAILABLE"
	ErrorCodeEFTPartial        ErrorCode = "EFT_PARTIAL_UNCONFIRMED"

	// Payment Document Errors (DOC_*)
	ErrorCodeDocNotFound          ErrorCode = "DOC_NOT_FOUND"
	ErrorCodeDocVoided            ErrorCode = "DOC_VOIDED"
	ErrorCodeDocInvalidTransition ErrorCode = "DOC_INVALID_TRANSITION"

	// Bank Account Errors (BANK_*)
	ErrorCodeBankAccountNotFound ErrorCode = "BANK_ACCOUNT_NOT_FOUND"

	// Run Errors (RUN_*)
	ErrorCodeRunNotFound     ErrorCode = "RUN_NOT_FOUND"
	ErrorCodeRunInvalidState ErrorCode = "RUN_INVALID_STATE"
	ErrorCodeRunConflict     ErrorCode = "RUN_CONFLICT"
	ErrorCodeSelectionEmpty  ErrorCode = "RUN_SELECTION_EMPTY"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeDocNotFound ||
		code == ErrorCodeBankAccountNotFound ||
		code == ErrorCodeRunNotFound
}

// IsSequenceError checks if an error came from number allocation
func IsSequenceError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeDuplicateNumber ||
		code == ErrorCodeStaleCounter ||
		code == ErrorCodeSequenceRegression ||
		code == ErrorCodeReservationStarted
}

// IsEFTUnwindError reports errors that force a generated EFT batch to be unwound
func IsEFTUnwindError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeFormatter ||
		code == ErrorCodeFileWrite ||
		code == ErrorCodeEFTRejected ||
		code == ErrorCodeEFTKeyUnavailable
}

// IsConflictError checks if an error is caused by state the operator has to resolve
func IsConflictError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeRunConflict ||
		code == ErrorCodeRunInvalidState ||
		code == ErrorCodeDocInvalidTransition ||
		code == ErrorCodeDocVoided ||
		code == ErrorCodeEFTPartial ||
		IsSequenceError(err)
}

// NewDuplicateNumberError reports a manual starting number that collides with a number
// already held by a payment on the same bank account.
func NewDuplicateNumberError(recipientName string, number int64) *DomainError {
	return NewDomainError(ErrorCodeDuplicateNumber,
		fmt.Sprintf("payment number %d is already used by %s", number, recipientName)).
		WithDetail("recipient", recipientName).
		WithDetail("number", number)
}

// NewStaleCounterError reports a counter that moved outside this run
func NewStaleCounterError(scope string, expected int64) *DomainError {
	return NewDomainError(ErrorCodeStaleCounter,
		fmt.Sprintf("counter %s changed externally (expected next value %d)", scope, expected)).
		WithDetail("scope", scope).
		WithDetail("expected", expected)
}

// NewRenderError reports a rendering failure for one payment
func NewRenderError(recipientName string, number int64, err error) *DomainError {
	return WrapError(ErrorCodeRender,
		fmt.Sprintf("failed to render payment %d for %s", number, recipientName), err).
		WithDetail("recipient", recipientName).
		WithDetail("number", number)
}

// NewTemplateLoadError reports a template that could not be loaded for the run
func NewTemplateLoadError(templateID string, err error) *DomainError {
	return WrapError(ErrorCodeTemplateLoad,
		fmt.Sprintf("failed to load document template %q", templateID), err).
		WithDetail("template_id", templateID)
}

// NewFormatterError reports a failure inside the configured EFT formatter
func NewFormatterError(formatter string, batchID int64, err error) *DomainError {
	return WrapError(ErrorCodeFormatter,
		fmt.Sprintf("EFT formatter %q failed for batch %d", formatter, batchID), err).
		WithDetail("formatter", formatter).
		WithDetail("batch_id", batchID)
}

// NewFileWriteError reports a failure writing the EFT output file
func NewFileWriteError(path string, batchID int64, err error) *DomainError {
	return WrapError(ErrorCodeFileWrite,
		fmt.Sprintf("failed to write EFT file %s for batch %d", path, batchID), err).
		WithDetail("path", path).
		WithDetail("batch_id", batchID)
}

// Structured error instances
var (
	ErrDocNotFound          = NewDomainError(ErrorCodeDocNotFound, "payment document not found")
	ErrDocVoided            = NewDomainError(ErrorCodeDocVoided, "payment document is voided")
	ErrDocInvalidTransition = NewDomainError(ErrorCodeDocInvalidTransition, "invalid payment document transition")

	ErrBankAccountNotFound = NewDomainError(ErrorCodeBankAccountNotFound, "bank account not found")

	ErrRunNotFound     = NewDomainError(ErrorCodeRunNotFound, "batch run not found")
	ErrRunInvalidState = NewDomainError(ErrorCodeRunInvalidState, "batch run is in invalid state for this operation")
	ErrRunConflict     = NewDomainError(ErrorCodeRunConflict, "another batch run is active for this bank account")
	ErrSelectionEmpty  = NewDomainError(ErrorCodeSelectionEmpty, "no unprinted payments selected")

	ErrEFTNotEnabled   = NewDomainError(ErrorCodeEFTNotEnabled, "bank account is not enabled for EFT")
	ErrEFTNoRecipients = NewDomainError(ErrorCodeEFTNoRecipients, "no EFT-enabled recipient in the unprinted payments")
	ErrEFTRejected     = NewDomainError(ErrorCodeEFTRejected, "operator rejected the EFT file")

	ErrSequenceRegression = NewDomainError(ErrorCodeSequenceRegression, "starting number is not above the last number issued")
	ErrReservationStarted = NewDomainError(ErrorCodeReservationStarted, "starting number can only change before the first allocation")

	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrDatabaseError    = NewDomainError(ErrorCodeDatabaseError, "database error")
)
