package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the PDF extraction worker
 *
 * Taxonomy:
 * - CONFIGURATION_ERROR: fatal, raised at initialization only
 * - EXTRACTION_FAILED: a method produced no usable text for a document
 * - TRANSIENT_SERVICE_ERROR: network/API failure talking to the OCR service
 * - CLEANUP_FAILED: a remote temporary resource could not be removed (logged only)
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Initialization errors
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"

	// Network errors
	ErrorTransientService ErrorCode = "TRANSIENT_SERVICE_ERROR"
	ErrorCleanupFailed    ErrorCode = "CLEANUP_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewConfigurationError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfiguration,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewExtractionFailedError(source string, method string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorExtractionFailed,
		Message:   fmt.Sprintf("%s extraction produced no text for %s", method, source),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
			"method": method,
		},
		Cause: cause,
	}
}

func NewOCRFailedError(source string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed with engine: %s", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source":     source,
			"ocr_engine": engine,
		},
		Cause: cause,
	}
}

func NewTransientServiceError(operation string, statusCode int, cause error) *ProcessingError {
	details := map[string]interface{}{
		"operation": operation,
	}
	if statusCode > 0 {
		details["status_code"] = statusCode
	}
	return &ProcessingError{
		Code:      ErrorTransientService,
		Message:   fmt.Sprintf("OCR service call failed: %s", operation),
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

func NewCleanupFailedError(fileID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCleanupFailed,
		Message:   fmt.Sprintf("Failed to delete remote file %s", fileID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_id": fileID,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store extraction results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// IsCode reports whether err, or any error it wraps, is a ProcessingError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
