// Package filemanager implements the File Manager (component I): the
// domain service that sits between a job's resolved artifact and the
// Downloaded-File registry, applying the expiry discipline spec §4.8
// requires (a file past its expiry is never handed back as live, even
// while it is still observable for diagnostics during its grace
// window).
package filemanager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/fileasset"
	"github.com/henriquebonfim/ultradl/internal/storage"
)

// ErrExpired is returned by GetByToken/GetByJobID when metadata exists
// but the file's ExpiresAt has passed — distinct from ErrNotFound,
// which means no metadata exists at all (even within the grace
// window).
var ErrExpired = errors.New("filemanager: file expired")

// DefaultTTL is applied by Register when the caller does not specify
// one, per spec §3's Downloaded-File default.
const DefaultTTL = 10 * time.Minute

// Manager is the File Manager.
type Manager struct {
	repo    *fileasset.Repository
	backend storage.Backend
	log     *slog.Logger
}

// New creates a Manager over repo/backend.
func New(repo *fileasset.Repository, backend storage.Backend, log *slog.Logger) *Manager {
	return &Manager{repo: repo, backend: backend, log: log}
}

// Register persists metadata for a freshly-downloaded artifact at
// path, owned by jobID, with a fresh token and expiry ttl (or
// DefaultTTL if ttl is zero). It returns the populated entity.
func (m *Manager) Register(ctx context.Context, path, jobID, filename string, ttl time.Duration) (*fileasset.File, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	f := &fileasset.File{
		Path:      path,
		Token:     fileasset.NewToken(),
		JobID:     jobID,
		Filename:  filename,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.repo.Save(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// GetByToken returns the file for tok, or ErrExpired if it has passed
// its expiry (triggering an opportunistic best-effort cleanup), or
// ErrNotFound if no metadata exists at all.
func (m *Manager) GetByToken(ctx context.Context, tok string) (*fileasset.File, error) {
	f, err := m.repo.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, fileasset.ErrNotFound) {
			return nil, fileasset.ErrNotFound
		}
		return nil, err
	}
	if f.Expired(time.Now().UTC()) {
		m.cleanupOne(ctx, f)
		return nil, ErrExpired
	}
	return f, nil
}

// GetByJobID applies the same expiry discipline as GetByToken, keyed
// by owning job id.
func (m *Manager) GetByJobID(ctx context.Context, jobID uuid.UUID) (*fileasset.File, error) {
	f, err := m.repo.GetByJobID(ctx, jobID.String())
	if err != nil {
		if errors.Is(err, fileasset.ErrNotFound) {
			return nil, fileasset.ErrNotFound
		}
		return nil, err
	}
	if f.Expired(time.Now().UTC()) {
		m.cleanupOne(ctx, f)
		return nil, ErrExpired
	}
	return f, nil
}

// Delete removes both index entries for tok and, unless
// deletePhysical is false, the underlying blob too.
func (m *Manager) Delete(ctx context.Context, tok string, deletePhysical bool) error {
	if deletePhysical {
		f, err := m.repo.GetByToken(ctx, tok)
		if err != nil && !errors.Is(err, fileasset.ErrNotFound) {
			return err
		}
		if f != nil {
			if err := m.backend.Delete(ctx, f.Path); err != nil {
				m.log.Warn("filemanager: blob delete failed", "path", f.Path, "err", err)
			}
		}
	}
	return m.repo.Delete(ctx, tok)
}

// DeleteByJobID resolves jobID to its token and deletes both the
// metadata and the underlying blob. It is a no-op, successfully, if
// no file is registered for jobID — satisfying jobmanager.ArtifactDeleter
// for callers that may not have an artifact at all (e.g. failed jobs).
func (m *Manager) DeleteByJobID(ctx context.Context, jobID uuid.UUID) error {
	f, err := m.repo.GetByJobID(ctx, jobID.String())
	if err != nil {
		if errors.Is(err, fileasset.ErrNotFound) {
			return nil
		}
		return err
	}
	return m.Delete(ctx, f.Token, true)
}

// CleanupExpired scans the index for files past their expiry, deletes
// their blob (best-effort) and metadata, and returns how many were
// removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.repo.GetExpired(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range expired {
		m.cleanupOne(ctx, f)
		count++
	}
	return count, nil
}

func (m *Manager) cleanupOne(ctx context.Context, f *fileasset.File) {
	if err := m.backend.Delete(ctx, f.Path); err != nil {
		m.log.Warn("filemanager: blob delete failed", "path", f.Path, "err", err)
	}
	if err := m.repo.Delete(ctx, f.Token); err != nil {
		m.log.Warn("filemanager: metadata delete failed", "token", f.Token, "err", err)
	}
}
