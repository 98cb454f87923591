package auth

import (
	"net/http"
	"time"

	"github.com/go-pkgz/rest"
	"github.com/google/uuid"
)

// ErrorCode is the stable machine-readable reason of a rejection.
type ErrorCode string

// error codes returned to clients
const (
	CodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	CodeProfileMismatch   ErrorCode = "AUTH_PROFILE_MISMATCH"
	CodeHMACRequired      ErrorCode = "AUTH_HMAC_REQUIRED"
	CodeHMACInvalid       ErrorCode = "AUTH_HMAC_INVALID"
	CodeIPNotAllowed      ErrorCode = "AUTHZ_IP_NOT_ALLOWED"
	CodePermissionDenied  ErrorCode = "AUTHZ_PERMISSION_DENIED"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeResourceNotFound  ErrorCode = "RESOURCE_NOT_FOUND"
	CodeInternal          ErrorCode = "AUTH_INTERNAL_ERROR"
)

// Status returns the http status for the code.
func (c ErrorCode) Status() int {
	switch c {
	case CodeAuthRequired, CodeProfileMismatch, CodeHMACRequired, CodeHMACInvalid:
		return http.StatusUnauthorized
	case CodeIPNotAllowed, CodePermissionDenied:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeResourceNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Provided tells which credentials verified, reported with profile mismatches.
type Provided struct {
	Token bool `json:"token"`
	Key   bool `json:"key"`
}

// ErrorDetail is the "error" object of the response envelope.
type ErrorDetail struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Hint     string    `json:"hint,omitempty"`
	Required string    `json:"required,omitempty"`
	Provided *Provided `json:"provided,omitempty"`
}

// ErrorResponse is the envelope of every rejection.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// default messages per code
var messages = map[ErrorCode]string{
	CodeAuthRequired:      "authentication required",
	CodeProfileMismatch:   "credentials do not match the resource auth profile",
	CodeHMACRequired:      "request signature required",
	CodeHMACInvalid:       "request signature invalid",
	CodeIPNotAllowed:      "caller address not allowed",
	CodePermissionDenied:  "permission denied",
	CodeRateLimitExceeded: "rate limit exceeded",
	CodeResourceNotFound:  "resource not found",
	CodeInternal:          "internal authentication error",
}

func newError(code ErrorCode, hint string) *ErrorDetail {
	return &ErrorDetail{Code: code, Message: messages[code], Hint: hint}
}

// WriteError renders the error envelope with the status of the code.
func WriteError(w http.ResponseWriter, r *http.Request, e ErrorDetail) {
	if e.Message == "" {
		e.Message = messages[e.Code]
	}
	resp := ErrorResponse{Error: e, RequestID: requestID(w, r), Timestamp: time.Now().UTC().Format(time.RFC3339)}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Code.Status())
	rest.RenderJSON(w, resp)
}

// requestID returns X-Request-ID of the request or the one set on the response by rest.Trace,
// a fresh uuid otherwise.
func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	if id := w.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
