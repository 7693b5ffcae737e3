package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeRateLimited        ErrorCode = "COMMON_015"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases used by call sites that predate the module prefixes.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
)

// Pipeline error taxonomy. Only ErrCodeModelUnavailable escapes the message
// processor; the others are converted into diagnostics on the result.
const (
	ErrCodeModelUnavailable  ErrorCode = "NLP_001"
	ErrCodeExtractionFailure ErrorCode = "NLP_002"
	ErrCodeLinkingFailure    ErrorCode = "NLP_003"
	ErrCodeInvalidInput      ErrorCode = "NLP_004"
	ErrCodeUnknownEntityType ErrorCode = "NLP_005"
	ErrCodeClassifierFailure ErrorCode = "NLP_006"
)

// Knowledge base error codes.
const (
	ErrCodeKBLoadFailed   ErrorCode = "KB_001"
	ErrCodeKBInvalidEntry ErrorCode = "KB_002"
	ErrCodeKBEmpty        ErrorCode = "KB_003"
)

// Transport and storage error codes.
const (
	ErrCodeMessagingFailure ErrorCode = "MSG_001"
	ErrCodeStorageFailure   ErrorCode = "STO_001"
)

// ErrorCodeHTTPStatus maps ErrorCode to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeRateLimited:        http.StatusTooManyRequests,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeModelUnavailable:  http.StatusServiceUnavailable,
	ErrCodeExtractionFailure: http.StatusInternalServerError,
	ErrCodeLinkingFailure:    http.StatusInternalServerError,
	ErrCodeInvalidInput:      http.StatusBadRequest,
	ErrCodeUnknownEntityType: http.StatusBadRequest,
	ErrCodeClassifierFailure: http.StatusInternalServerError,

	ErrCodeKBLoadFailed:   http.StatusServiceUnavailable,
	ErrCodeKBInvalidEntry: http.StatusUnprocessableEntity,
	ErrCodeKBEmpty:        http.StatusServiceUnavailable,

	ErrCodeMessagingFailure: http.StatusBadGateway,
	ErrCodeStorageFailure:   http.StatusBadGateway,
}

// ErrorCodeMessage maps ErrorCode to default human-readable messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeRateLimited:        "rate limit exceeded",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeModelUnavailable:  "model unavailable",
	ErrCodeExtractionFailure: "entity extraction failed",
	ErrCodeLinkingFailure:    "entity linking failed",
	ErrCodeInvalidInput:      "invalid input",
	ErrCodeUnknownEntityType: "unknown entity type",
	ErrCodeClassifierFailure: "relevance classification failed",

	ErrCodeKBLoadFailed:   "knowledge base could not be loaded",
	ErrCodeKBInvalidEntry: "invalid knowledge base entry",
	ErrCodeKBEmpty:        "knowledge base is empty",

	ErrCodeMessagingFailure: "messaging failure",
	ErrCodeStorageFailure:   "object storage failure",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
