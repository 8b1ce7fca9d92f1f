// Package fileasset defines the Downloaded-File aggregate: artifact
// metadata persisted after a successful download, per spec §3/§4.3.
package fileasset

import "time"

// File is a snapshot of a persisted artifact's metadata: where the
// blob lives in the storage backend, the token that grants time-
// limited access to it, and the job that produced it.
type File struct {
	Path      string
	Token     string
	JobID     string
	Filename  string
	Size      *int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether now is at or past f's expiry.
func (f *File) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

// RemainingSeconds returns how long, in seconds, f has left before
// ExpiresAt, floored at zero.
func (f *File) RemainingSeconds(now time.Time) int64 {
	remaining := int64(f.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
