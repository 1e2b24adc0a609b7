// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"maps-workers/internal/maps/references"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeMalformedDocument   ErrorCode = "MALFORMED_DOCUMENT"
	ErrCodeMissingReference    ErrorCode = "MISSING_REFERENCE"
	ErrCodeMapValidationFailed ErrorCode = "MAP_VALIDATION_FAILED"
	ErrCodeMapNotFound         ErrorCode = "MAP_NOT_FOUND"

	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeStorageQueryFailed ErrorCode = "STORAGE_QUERY_FAILED"
	ErrCodeStorageTimeout     ErrorCode = "STORAGE_TIMEOUT"
	ErrCodeCacheUnavailable   ErrorCode = "CACHE_UNAVAILABLE"

	ErrCodeExportUploadFailed        ErrorCode = "EXPORT_UPLOAD_FAILED"
	ErrCodeNotificationPublishFailed ErrorCode = "NOTIFICATION_PUBLISH_FAILED"

	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
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

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
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

// ==========================
// 3. Error Constructors
// ==========================

// NewMalformedDocumentError reports a map attribute that cannot be parsed.
func NewMalformedDocumentError(field string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedDocument,
		Message:   "Map document could not be parsed",
		Details:   err.Error(),
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewMissingReferenceError reports a stored map whose references are out of sync.
func NewMissingReferenceError(name string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingReference,
		Message:   "Saved object reference could not be resolved",
		Details:   fmt.Sprintf("reference: %s", name),
		Retryable: false,
		Metadata:  map[string]interface{}{"referenceName": name},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewMapValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMapValidationFailed,
		Message:   "Map attributes failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewMapNotFoundError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMapNotFound,
		Message:   "Map not found",
		Details:   fmt.Sprintf("mapId: %s", id),
		Retryable: false,
		Metadata:  map[string]interface{}{"mapId": id},
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageUnavailableError creates a retryable storage connection error.
func NewStorageUnavailableError(backend string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageUnavailable,
		Message:   fmt.Sprintf("Storage backend '%s' unavailable", backend),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStorageQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageQueryFailed,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStorageTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageTimeout,
		Message:   "Storage operation timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Map cache unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewExportUploadFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExportUploadFailed,
		Message:   "Export upload failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewNotificationPublishFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationPublishFailed,
		Message:   "Notification publish failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid job input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// FromError normalises err to a StandardError. Codec errors keep their
// identity; context deadlines become storage timeouts.
func FromError(err error) *StandardError {
	if err == nil {
		return nil
	}

	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}

	var malformed *references.MalformedDocumentError
	if stderrors.As(err, &malformed) {
		return NewMalformedDocumentError(malformed.Field, err)
	}

	var missing *references.MissingReferenceError
	if stderrors.As(err, &missing) {
		return NewMissingReferenceError(missing.Name, err)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewStorageTimeoutError(err.Error())
	}

	return NewInternalError(err)
}

// ==========================
// 4. BPMN mapping
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeMalformedDocument:         "MALFORMED_DOCUMENT",
	ErrCodeMissingReference:          "MISSING_REFERENCE",
	ErrCodeMapValidationFailed:       "MAP_VALIDATION_FAILED",
	ErrCodeMapNotFound:               "MAP_NOT_FOUND",
	ErrCodeStorageUnavailable:        "STORAGE_UNAVAILABLE",
	ErrCodeStorageQueryFailed:        "STORAGE_QUERY_FAILED",
	ErrCodeStorageTimeout:            "STORAGE_TIMEOUT",
	ErrCodeCacheUnavailable:          "CACHE_UNAVAILABLE",
	ErrCodeExportUploadFailed:        "EXPORT_UPLOAD_FAILED",
	ErrCodeNotificationPublishFailed: "NOTIFICATION_PUBLISH_FAILED",
	ErrCodeInvalidInput:              "INVALID_INPUT",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStorageUnavailable,
		ErrCodeStorageQueryFailed,
		ErrCodeExportUploadFailed,
		ErrCodeNotificationPublishFailed,
		ErrCodeExternalService:
		return 3 // Retryable technical errors

	case ErrCodeStorageTimeout,
		ErrCodeTimeout,
		ErrCodeCacheUnavailable:
		return 2

	default:
		return 0 // Business and data-integrity errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeMalformedDocument || code == ErrCodeMissingReference:
		return "REFERENCES"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "STORAGE") || strings.Contains(codeStr, "NOT_FOUND"):
		return "STORAGE"
	case strings.Contains(codeStr, "CACHE"):
		return "CACHE"
	case strings.Contains(codeStr, "EXPORT"):
		return "EXPORT"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	default:
		return "OTHER"
	}
}
