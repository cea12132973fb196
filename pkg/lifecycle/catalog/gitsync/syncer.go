package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
)

// Publisher is the catalog the syncer publishes to.
type Publisher interface {
	Latest() *lifecycle.CatalogVersion
	Publish(ctx context.Context, draft *catalog.Draft) (*lifecycle.CatalogVersion, error)
}

// SyncResult describes one sync.
type SyncResult struct {
	Commit    *CommitInfo               `json:"commit"`
	Changed   bool                      `json:"changed"`
	Published *lifecycle.CatalogVersion `json:"published,omitempty"`
}

// Syncer publishes the repository's catalog file each time a pull changes
// it. A file whose effective date is not after the latest published
// version is left unpublished, so a revert in the repository never rewrites
// published history.
type Syncer struct {
	repo     *Repository
	catalog  Publisher
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	synced    bool
	lastError error
}

// NewSyncer creates a syncer for repo.
func NewSyncer(repo *Repository, c Publisher, interval time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		repo:     repo,
		catalog:  c,
		interval: interval,
		logger:   logger.With("component", "catalog.git"),
	}
}

// Sync pulls the repository and publishes the catalog file when it changed.
// The first Sync clones the repository and always considers the file.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.syncLocked(ctx)
	s.lastError = err
	return result, err
}

func (s *Syncer) syncLocked(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}
	if !s.synced {
		if err := s.repo.Clone(ctx); err != nil {
			return nil, err
		}
		result.Changed = true
	} else {
		pull, err := s.repo.Pull(ctx)
		if err != nil {
			return nil, err
		}
		result.Changed = touches(pull.ChangedFiles, s.repo.cfg.Path)
		if pull.HadChanges && !result.Changed {
			s.logger.Debug("Repository changed without touching the catalog file",
				"to_sha", short(pull.ToSHA),
				"changed_files", len(pull.ChangedFiles),
			)
		}
	}

	commit, err := s.repo.CurrentCommit()
	if err != nil {
		return nil, err
	}
	result.Commit = commit
	s.synced = true

	if !result.Changed {
		return result, nil
	}

	data, err := s.repo.ReadCatalog()
	if err != nil {
		return nil, err
	}
	draft, err := catalog.ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog at %s: %w", short(commit.SHA), err)
	}
	if latest := s.catalog.Latest(); latest != nil && !draft.EffectiveDate.After(latest.EffectiveDate) {
		s.logger.Info("Catalog in repository not newer than latest version, skipping",
			"commit", short(commit.SHA),
			"effective_date", draft.EffectiveDate,
			"latest_version", latest.Version,
		)
		return result, nil
	}

	v, err := s.catalog.Publish(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to publish catalog at %s: %w", short(commit.SHA), err)
	}
	result.Published = v
	s.logger.Info("Catalog published from repository",
		"commit", short(commit.SHA),
		"author", commit.Author,
		"version", v.Version,
		"effective_date", v.EffectiveDate,
	)
	return result, nil
}

// Run syncs every interval until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Catalog repository polling started", "interval", s.interval, "auth", s.repo.AuthType())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Catalog repository polling stopped")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("Catalog repository sync failed", "error", err)
			}
		}
	}
}

// LastError returns the error of the most recent sync, or nil.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// touches reports whether path is among the changed repository files.
func touches(changed []string, path string) bool {
	want := filepath.ToSlash(filepath.Clean(path))
	return slices.Contains(changed, want)
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
