package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/ratelimit"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorResponse is the shape every failed request returns, per spec §6:
// `{error, error_category?, reset_at?}`.
type errorResponse struct {
	Error         string          `json:"error"`
	ErrorCategory apierr.Category `json:"error_category,omitempty"`
	ResetAt       *time.Time      `json:"reset_at,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, cat apierr.Category) {
	writeJSON(w, status, errorResponse{Error: msg, ErrorCategory: cat})
}

// writeRateLimitHeaders sets X-RateLimit-* on every response for a
// rate-limited endpoint, per spec §6, using whichever State is closest
// to tripping.
func writeRateLimitHeaders(w http.ResponseWriter, states []ratelimit.State) {
	st, ok := ratelimit.MostRestrictive(states)
	if !ok {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(st.Ceiling, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(st.Remaining(), 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
}

// writeRateLimitExceeded writes the 429 response spec §6 mandates:
// always the three rate-limit headers, plus the categorized body.
func writeRateLimitExceeded(w http.ResponseWriter, exceeded *ratelimit.ExceededError) {
	st := exceeded.State
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(st.Ceiling, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(st.Remaining(), 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
	resetAt := st.ResetAt
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:         "rate limit exceeded",
		ErrorCategory: apierr.RateLimited,
		ResetAt:       &resetAt,
	})
}
