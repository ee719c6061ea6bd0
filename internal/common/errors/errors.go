// Package errors provides the structured error type shared by the HTTP API,
// the routing service and the Zeebe workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	ErrCodeUnsupportedFlow    ErrorCode = "UNSUPPORTED_FLOW"
	ErrCodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeFunnelIncomplete   ErrorCode = "FUNNEL_INCOMPLETE"
	ErrCodeFunnelSubmitted    ErrorCode = "FUNNEL_ALREADY_SUBMITTED"
	ErrCodeInvalidField       ErrorCode = "INVALID_FIELD"
	ErrCodeInvalidApplication ErrorCode = "INVALID_APPLICATION"

	ErrCodeReferralSigningFailed    ErrorCode = "REFERRAL_SIGNING_FAILED"
	ErrCodeCallbackSignatureInvalid ErrorCode = "CALLBACK_SIGNATURE_INVALID"
	ErrCodeAuditWriteFailed         ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeAuditReadFailed          ErrorCode = "AUDIT_READ_FAILED"

	ErrCodeBackendSubmissionFailed ErrorCode = "BACKEND_SUBMISSION_FAILED"
	ErrCodeNotificationSendFailed  ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeCRMAPIError             ErrorCode = "CRM_API_ERROR"

	ErrCodeAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeExternalService  ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout          ErrorCode = "TIMEOUT_ERROR"
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeBusinessRule     ErrorCode = "BUSINESS_RULE_VIOLATION"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// As returns the StandardError in err's chain, if any.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := As(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// NewUnsupportedFlowError is returned for an unknown funnel type.
func NewUnsupportedFlowError(flow string) *StandardError {
	return newError(ErrCodeUnsupportedFlow, "Unsupported funnel type", fmt.Sprintf("flow: %s", flow), false, nil)
}

// NewSessionNotFoundError is returned when neither memory nor the draft store
// knows the session.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return newError(ErrCodeSessionNotFound, "Funnel session not found", fmt.Sprintf("sessionId: %s", sessionID), false, nil)
}

// NewFunnelIncompleteError is returned when submit is attempted before the
// last step is valid.
func NewFunnelIncompleteError(stepID string) *StandardError {
	return newError(ErrCodeFunnelIncomplete, "Funnel is not complete", fmt.Sprintf("step: %s", stepID), false, nil)
}

// NewFunnelSubmittedError is returned for operations on a submitted funnel.
func NewFunnelSubmittedError(sessionID string) *StandardError {
	return newError(ErrCodeFunnelSubmitted, "Funnel already submitted", fmt.Sprintf("sessionId: %s", sessionID), false, nil)
}

// NewInvalidFieldError wraps a rejected data merge.
func NewInvalidFieldError(err error) *StandardError {
	return newError(ErrCodeInvalidField, "Field update rejected", err.Error(), false, err)
}

// NewInvalidApplicationError wraps an application payload that cannot be routed.
func NewInvalidApplicationError(details string) *StandardError {
	return newError(ErrCodeInvalidApplication, "Application payload is invalid", details, false, nil)
}

// NewReferralSigningFailedError is returned when a referral cannot be signed.
func NewReferralSigningFailedError(partner string, err error) *StandardError {
	return newError(ErrCodeReferralSigningFailed, "Routing failed, please contact support",
		fmt.Sprintf("partner: %s, error: %s", partner, err.Error()), false, err)
}

// NewCallbackSignatureInvalidError is returned for partner callbacks with a bad signature.
func NewCallbackSignatureInvalidError(partner string) *StandardError {
	return newError(ErrCodeCallbackSignatureInvalid, "Callback signature invalid", fmt.Sprintf("partner: %s", partner), false, nil)
}

// NewAuditWriteFailedError creates a retryable audit append error.
func NewAuditWriteFailedError(err error) *StandardError {
	return newError(ErrCodeAuditWriteFailed, "Referral audit write failed", err.Error(), true, err)
}

// NewAuditReadFailedError creates a retryable audit read error.
func NewAuditReadFailedError(err error) *StandardError {
	return newError(ErrCodeAuditReadFailed, "Referral audit read failed", err.Error(), true, err)
}

// NewBackendSubmissionFailedError wraps a failed POST to the internal backend.
func NewBackendSubmissionFailedError(flow string, retryable bool, err error) *StandardError {
	return newError(ErrCodeBackendSubmissionFailed, "Backend submission failed",
		fmt.Sprintf("flow: %s, error: %s", flow, err.Error()), retryable, err)
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true, err)
}

// NewCRMAPIError wraps a CRM failure.
func NewCRMAPIError(err error) *StandardError {
	return newError(ErrCodeCRMAPIError, "Failed to create CRM contact", err.Error(), true, err)
}

func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthentication, "Authentication failed", details, false, nil)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true, err)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError(ErrCodeResourceNotFound, fmt.Sprintf("Resource not found in %s", service), details, false, nil)
}

func NewBusinessRuleError(message, details string) *StandardError {
	return newError(ErrCodeBusinessRule, message, details, false, nil)
}

// BPMNError is an error thrown back to the Zeebe engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns the variables attached to a failed or thrown job.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// GetRetryCount returns the job retry budget for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeAuditWriteFailed,
		ErrCodeAuditReadFailed,
		ErrCodeBackendSubmissionFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeCRMAPIError,
		ErrCodeExternalService:
		return 3
	case ErrCodeTimeout:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError for the workflow engine.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory groups codes for logging.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "REFERRAL") || strings.Contains(codeStr, "CALLBACK"):
		return "ROUTING"
	case strings.Contains(codeStr, "AUDIT"):
		return "AUDIT"
	case strings.Contains(codeStr, "FUNNEL") || strings.Contains(codeStr, "SESSION") || strings.Contains(codeStr, "FLOW"):
		return "FUNNEL"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "CRM"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "AUTH"):
		return "AUTHENTICATION"
	case strings.Contains(codeStr, "EXTERNAL") || strings.Contains(codeStr, "TIMEOUT") || strings.Contains(codeStr, "BACKEND"):
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

// HTTPStatus maps a code to the status the API answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnsupportedFlow, ErrCodeSessionNotFound, ErrCodeResourceNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidField, ErrCodeInvalidApplication:
		return http.StatusBadRequest
	case ErrCodeFunnelIncomplete, ErrCodeFunnelSubmitted, ErrCodeBusinessRule:
		return http.StatusConflict
	case ErrCodeAuthentication, ErrCodeCallbackSignatureInvalid:
		return http.StatusUnauthorized
	case ErrCodeReferralSigningFailed, ErrCodeBackendSubmissionFailed, ErrCodeExternalService:
		return http.StatusBadGateway
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeAuditReadFailed, ErrCodeAuditWriteFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
