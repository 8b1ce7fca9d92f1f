package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/henriquebonfim/ultradl/internal/config"
	"github.com/henriquebonfim/ultradl/internal/metrics"
)

// ErrLimitExceeded is returned by Manager when a request has been
// throttled. The caller unwraps it via errors.As to surface the
// offending State's Ceiling/ResetAt (e.g. as X-RateLimit-* headers).
var ErrLimitExceeded = errors.New("ratelimit: limit exceeded")

// ExceededError carries the State that tripped the limit.
type ExceededError struct {
	State State
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("ratelimit: %s exceeded (%d/%d)", e.State.LimitType, e.State.Count, e.State.Ceiling)
}

func (e *ExceededError) Unwrap() error { return ErrLimitExceeded }

// Category names the download categories the daily per-category
// ceiling is keyed by, mirroring the original service's video-type
// classification.
type Category string

const (
	CategoryVideoOnly  Category = "video_only"
	CategoryAudioOnly  Category = "audio_only"
	CategoryVideoAudio Category = "video_audio"
)

// Manager is the Rate-Limit Manager (component J): it orders the
// individual limit checks, applies the enforcement gate and whitelist,
// and decides what to increment.
type Manager struct {
	repo *Repository
	cfg  *config.Config
}

// NewManager creates a Manager over repo, governed by cfg.
func NewManager(repo *Repository, cfg *config.Config) *Manager {
	return &Manager{repo: repo, cfg: cfg}
}

func (m *Manager) categoryDailyLimit(cat Category) Limit {
	switch cat {
	case CategoryAudioOnly:
		return Limit{Type: "daily_audio_only", Ceiling: m.cfg.AudioOnlyDaily}
	case CategoryVideoAudio:
		return Limit{Type: "daily_video_audio", Ceiling: m.cfg.VideoAudioDaily}
	default:
		// Unknown categories fall back to the video-only ceiling, matching
		// the original service's default classification.
		return Limit{Type: "daily_video_only", Ceiling: m.cfg.VideoOnlyDaily}
	}
}

// checkAndIncrement reads the current, pre-increment state for limit
// and decides exceeded-ness against it (the Nth request, bringing the
// count to exactly Ceiling, is still allowed). If it is not yet
// exceeded, it increments and returns the post-increment state
// alongside true; a post-increment count equal to Ceiling is a
// successful request, not a refusal, so callers must branch on the
// returned bool rather than re-running State.Exceeded() against it.
// If the pre-increment state was already exceeded, it returns that
// state unmodified alongside false (the request is refused without
// consuming a slot).
func (m *Manager) checkAndIncrement(ctx context.Context, ipHash string, limit Limit) (State, bool) {
	current := m.repo.GetState(ctx, ipHash, limit)
	if current.Exceeded() {
		return current, false
	}
	return m.repo.Increment(ctx, ipHash, limit), true
}

// CheckDownloadLimits enforces, in order, the per-minute burst limit,
// the category's daily limit, and the total-jobs daily limit. It
// returns the States of every check it performed (useful for response
// headers) and a non-nil *ExceededError wrapped in the returned error
// the moment any one of them is exceeded — later checks are skipped,
// matching the original service's short-circuit behavior.
//
// A no-op (all checks skipped, empty slice, nil error) is returned
// when enforcement is disabled or ip is whitelisted.
func (m *Manager) CheckDownloadLimits(ctx context.Context, ip string, category Category) ([]State, error) {
	if !m.cfg.ShouldEnforceRateLimit() || m.cfg.RateLimitWhitelist[ip] {
		return nil, nil
	}

	ipHash := HashIP(ip)
	checks := []Limit{
		{Type: "per_minute", Ceiling: m.cfg.BatchPerMinute},
		m.categoryDailyLimit(category),
		{Type: "total_daily", Ceiling: m.cfg.TotalJobsDaily},
	}

	states := make([]State, 0, len(checks))
	for _, limit := range checks {
		st, ok := m.checkAndIncrement(ctx, ipHash, limit)
		states = append(states, st)
		if !ok {
			metrics.RateLimitRejectionsTotal.WithLabelValues(limit.Type).Inc()
			return states, &ExceededError{State: st}
		}
	}
	return states, nil
}

// CheckEndpointLimit enforces the per-endpoint hourly ceiling
// configured for endpoint, if any. An endpoint with no configured
// ceiling is unthrottled.
func (m *Manager) CheckEndpointLimit(ctx context.Context, ip, endpoint string) (*State, error) {
	if !m.cfg.ShouldEnforceRateLimit() || m.cfg.RateLimitWhitelist[ip] {
		return nil, nil
	}
	ceiling, ok := m.cfg.EndpointHourly[endpoint]
	if !ok {
		return nil, nil
	}

	limit := Limit{Type: "hourly_" + endpoint, Ceiling: ceiling}
	st, ok := m.checkAndIncrement(ctx, HashIP(ip), limit)
	if !ok {
		metrics.RateLimitRejectionsTotal.WithLabelValues(limit.Type).Inc()
		return &st, &ExceededError{State: st}
	}
	return &st, nil
}

// MostRestrictive returns the entry from states with the smallest
// Remaining(), i.e. the limit a client is closest to tripping — used
// to pick which State's Ceiling/ResetAt populate the response headers
// when several checks ran.
func MostRestrictive(states []State) (State, bool) {
	if len(states) == 0 {
		return State{}, false
	}
	most := states[0]
	for _, st := range states[1:] {
		if st.Remaining() < most.Remaining() {
			most = st
		}
	}
	return most, true
}
