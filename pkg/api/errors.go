package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes carried in ErrorResponse.Code
const (
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeBackpressure  = "BACKPRESSURE"
	CodeRateLimited   = "RATE_LIMITED"
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnavailable   = "UNAVAILABLE"
	CodeInternal      = "INTERNAL"
)

var errRateLimited = errors.New("publish rate limit exceeded")

// statusFor maps an error to its HTTP status and code
func statusFor(err error) (int, string) {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case errdefs.IsAlreadyExists(err):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errdefs.IsResourceExhausted(err):
		return http.StatusTooManyRequests, CodeBackpressure
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest, CodeBadRequest
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
