package fileasset

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/henriquebonfim/ultradl/internal/kv"
)

const (
	tokenPrefix = "file_token:"
	jobPrefix   = "file_job:"

	// Grace is the additional window a file's Redis TTL carries past
	// its logical ExpiresAt, per spec §4.3: long enough to distinguish
	// a "recently expired" (410) response from a "never existed" (404)
	// one.
	Grace = 60 * time.Second
)

// ErrNotFound is returned when no metadata exists for the requested
// token or job id, at all — not even within the grace window.
var ErrNotFound = errors.New("fileasset: not found")

// ErrAlreadyExpired is returned by Save when the file's ExpiresAt has
// already passed: per §4.3, an already-expired file is never
// persisted.
var ErrAlreadyExpired = errors.New("fileasset: already expired")

type jobIndexEntry struct {
	Token string `json:"token"`
}

// Repository is the File Repository (component C): a dual-index store
// over kv.Store, keyed by token and by owning job id.
type Repository struct {
	store kv.Store
}

// New creates a Repository over store.
func New(store kv.Store) *Repository {
	return &Repository{store: store}
}

func tokenKey(tok string) string { return tokenPrefix + tok }
func jobKey(jobID string) string { return jobPrefix + jobID }

// NewToken generates a cryptographically random, URL-safe token of at
// least 32 characters, per spec §3's Downloaded-File invariant.
func NewToken() string {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// Save persists f's metadata under both indices, sharing a TTL of
// (ExpiresAt - now) + Grace. Save refuses with ErrAlreadyExpired if f
// is already past its ExpiresAt.
func (r *Repository) Save(ctx context.Context, f *File) error {
	now := time.Now().UTC()
	if !f.ExpiresAt.After(now) {
		return ErrAlreadyExpired
	}
	ttl := f.ExpiresAt.Sub(now) + Grace

	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	idx, err := json.Marshal(jobIndexEntry{Token: f.Token})
	if err != nil {
		return err
	}
	return r.store.Pipeline(ctx, func(p kv.Pipeline) {
		p.Set(tokenKey(f.Token), raw, ttl)
		p.Set(jobKey(f.JobID), idx, ttl)
	})
}

// GetByToken returns the file metadata for tok. It returns the entity
// even past ExpiresAt, as long as it is still within the grace window
// the Redis TTL enforces — callers distinguish "expired" from "absent"
// via File.Expired, not via this method's error.
func (r *Repository) GetByToken(ctx context.Context, tok string) (*File, error) {
	raw, err := r.store.Get(ctx, tokenKey(tok))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetByJobID resolves the token bound to jobID and returns its file
// metadata, with the same grace-window discipline as GetByToken.
func (r *Repository) GetByJobID(ctx context.Context, jobID string) (*File, error) {
	raw, err := r.store.Get(ctx, jobKey(jobID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var idx jobIndexEntry
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, err
	}
	return r.GetByToken(ctx, idx.Token)
}

// Delete removes both index entries for tok. Deleting an absent token
// is not an error.
func (r *Repository) Delete(ctx context.Context, tok string) error {
	f, err := r.GetByToken(ctx, tok)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	keys := []string{tokenKey(tok)}
	if f != nil {
		keys = append(keys, jobKey(f.JobID))
	}
	return r.store.Delete(ctx, keys...)
}

// Exists reports whether metadata for tok is present (including within
// the grace window).
func (r *Repository) Exists(ctx context.Context, tok string) (bool, error) {
	n, err := r.store.Exists(ctx, tokenKey(tok))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetExpired scans the token index and returns every file whose
// ExpiresAt has passed but whose metadata is still present (i.e.
// within the grace window).
func (r *Repository) GetExpired(ctx context.Context) ([]*File, error) {
	now := time.Now().UTC()
	var out []*File
	for key, err := range r.store.Scan(ctx, tokenPrefix+"*") {
		if err != nil {
			return nil, err
		}
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var f File
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		if f.Expired(now) {
			out = append(out, &f)
		}
	}
	return out, nil
}
