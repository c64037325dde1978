package api

import (
	"errors"
	"net/http"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("too many requests")
	ErrUnavailable = errors.New("store unavailable")
)

// Error codes carried in the response envelope.
const (
	codeValidation  = "validation_failed"
	codeUnauthorize = "unauthorized"
	codeRateLimited = "rate_limited"
	codeMerge       = "merge_failed"
	codeRecompute   = "recompute_failed"
	codeNotFound    = "not_found"
	codeInternal    = "internal_error"
	codeTimeout     = "timeout"
)

// errorResponse is the failure envelope shared by every endpoint.
type errorResponse struct {
	Success    bool                    `json:"success"`
	Code       string                  `json:"code"`
	Message    string                  `json:"message"`
	Violations []leaderboard.Violation `json:"violations,omitempty"`
	Updated    *int                    `json:"updated,omitempty"`
	Types      []leaderboard.EntryType `json:"types,omitempty"`
}

// classify maps the domain error taxonomy onto a status code and envelope.
// More specific kinds are checked first: a RecomputeFailure caused by a
// timeout is still a recompute failure.
func classify(err error) (int, errorResponse) {
	var (
		vErr *leaderboard.ValidationError
		aErr *leaderboard.AuthorizationError
		mErr *leaderboard.MergeFailure
		rErr *leaderboard.RecomputeFailure
	)
	resp := errorResponse{Message: err.Error()}

	switch {
	case errors.As(err, &vErr):
		resp.Code = codeValidation
		resp.Message = "request validation failed"
		resp.Violations = vErr.Violations
		return http.StatusBadRequest, resp
	case errors.As(err, &aErr):
		resp.Code = codeUnauthorize
		return http.StatusUnauthorized, resp
	case errors.Is(err, ErrRateLimited):
		resp.Code = codeRateLimited
		return http.StatusTooManyRequests, resp
	case errors.As(err, &mErr):
		resp.Code = codeMerge
		return http.StatusInternalServerError, resp
	case errors.As(err, &rErr):
		updated := rErr.Updated
		resp.Code = codeRecompute
		resp.Updated = &updated
		resp.Types = rErr.Types
		return http.StatusInternalServerError, resp
	case errors.Is(err, leaderboard.ErrNotFound):
		resp.Code = codeNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, leaderboard.ErrTimeout):
		resp.Code = codeTimeout
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, ErrBadRequest):
		resp.Code = codeValidation
		return http.StatusBadRequest, resp
	default:
		resp.Code = codeInternal
		resp.Message = http.StatusText(http.StatusInternalServerError)
		return http.StatusInternalServerError, resp
	}
}
