package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/henriquebonfim/ultradl/internal/kv"
)

// HashIP derives the key-safe identifier spec §4.5 calls ip-hash: a
// client IP is never stored verbatim in a Redis key.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}

func key(ipHash string, limitType string) string {
	return "ratelimit:" + limitType + ":" + ipHash
}

// resetAt computes the window boundary a counter of this limit type
// resets at, per spec §4.5: daily limits reset at the next midnight
// UTC, hourly limits at the next hour boundary, everything else
// (per-minute) at the next minute boundary.
func resetAt(limitType string, now time.Time) time.Time {
	now = now.UTC()
	switch {
	case strings.Contains(limitType, "daily"):
		tomorrow := now.AddDate(0, 0, 1)
		return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)
	case strings.Contains(limitType, "hourly"):
		nextHour := now.Add(time.Hour)
		return time.Date(nextHour.Year(), nextHour.Month(), nextHour.Day(), nextHour.Hour(), 0, 0, 0, time.UTC)
	default:
		nextMinute := now.Add(time.Minute)
		return time.Date(nextMinute.Year(), nextMinute.Month(), nextMinute.Day(), nextMinute.Hour(), nextMinute.Minute(), 0, 0, time.UTC)
	}
}

// Repository is the Rate-Limit Repository (component E): atomic
// counter increment with expire-at, degrading to a synthetic unlimited
// state on store failure.
type Repository struct {
	store kv.Store
	log   *slog.Logger
}

// New creates a Repository over store.
func New(store kv.Store, log *slog.Logger) *Repository {
	return &Repository{store: store, log: log}
}

func (r *Repository) unlimited(limit Limit, now time.Time) State {
	return State{
		LimitType: limit.Type,
		Count:     0,
		Ceiling:   limit.Ceiling,
		ResetAt:   resetAt(limit.Type, now),
	}
}

// GetState returns the current counter value and reset time for
// (ipHash, limit) with a single Get. The key's TTL is not read:
// ResetAt is always the next window boundary for the limit type, the
// same instant Increment pins as the key's expiry. On store failure it
// fails open and returns a synthetic zero-count state — rate limits
// are advisory, not a security boundary.
func (r *Repository) GetState(ctx context.Context, ipHash string, limit Limit) State {
	now := time.Now().UTC()
	k := key(ipHash, limit.Type)

	raw, getErr := r.store.Get(ctx, k)
	if getErr != nil && !errors.Is(getErr, kv.ErrNotFound) {
		r.log.Warn("rate limit store unavailable, failing open", "err", getErr, "limit_type", limit.Type)
		return r.unlimited(limit, now)
	}
	if errors.Is(getErr, kv.ErrNotFound) {
		return State{LimitType: limit.Type, Count: 0, Ceiling: limit.Ceiling, ResetAt: resetAt(limit.Type, now)}
	}

	count, parseErr := strconv.ParseInt(string(raw), 10, 64)
	if parseErr != nil {
		return r.unlimited(limit, now)
	}
	return State{LimitType: limit.Type, Count: count, Ceiling: limit.Ceiling, ResetAt: resetAt(limit.Type, now)}
}

// Increment atomically increments the counter for (ipHash, limit) and
// pins its expiry to the computed reset time (EXPIREAT is idempotent,
// so repeated calls within the same window are safe). On transport
// failure it fails open exactly like GetState.
func (r *Repository) Increment(ctx context.Context, ipHash string, limit Limit) State {
	now := time.Now().UTC()
	k := key(ipHash, limit.Type)
	reset := resetAt(limit.Type, now)

	count, err := r.store.Incr(ctx, k)
	if err != nil {
		r.log.Warn("rate limit store unavailable, failing open", "err", err, "limit_type", limit.Type)
		return r.unlimited(limit, now)
	}
	if err := r.store.ExpireAt(ctx, k, reset); err != nil {
		r.log.Warn("rate limit expireat failed", "err", err, "limit_type", limit.Type)
	}
	return State{LimitType: limit.Type, Count: count, Ceiling: limit.Ceiling, ResetAt: reset}
}
