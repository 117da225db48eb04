package ratelimit

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"

	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeConcurrencyLimit  = "CONCURRENCY_LIMIT"
)

// ErrorResponse is the JSON envelope written on rejection.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Status  int               `json:"status"`
	Details *RateLimitDetails `json:"details,omitempty"`
}

type RateLimitDetails struct {
	Limit      int   `json:"limit"`
	WindowMs   int64 `json:"windowMs"`
	RetryAfter int   `json:"retryAfter"`
}

func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	h.Set(HeaderLimit, formatInt(dec.Limit))
	h.Set(HeaderRemaining, formatInt(max(0, dec.Remaining)))
	h.Set(HeaderReset, formatInt64(dec.ResetAt))
}

func writeRateLimited(w http.ResponseWriter, q domain.Quota, dec domain.Decision) {
	setRateLimitHeaders(w.Header(), dec)
	w.Header().Set(HeaderRetryAfter, formatInt(dec.RetryAfter))

	writeError(w, http.StatusTooManyRequests, ErrorDetail{
		Message: "Rate limit exceeded",
		Code:    CodeRateLimitExceeded,
		Details: &RateLimitDetails{
			Limit:      q.MaxRequests,
			WindowMs:   q.WindowMs,
			RetryAfter: dec.RetryAfter,
		},
	})
}

func writeError(w http.ResponseWriter, status int, detail ErrorDetail) {
	detail.Status = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}
