package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"mercator-hq/lethe/pkg/config"
)

// CommitInfo describes the commit a catalog was read from.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// PullResult describes one pull.
type PullResult struct {
	FromSHA      string
	ToSHA        string
	ChangedFiles []string
	HadChanges   bool
}

// Repository is a local clone of the catalog repository.
type Repository struct {
	cfg  config.GitCatalogConfig
	auth AuthProvider

	mu   sync.RWMutex
	repo *gogit.Repository
}

// NewRepository creates a repository manager. Secret references in
// cfg.Auth must already be resolved.
func NewRepository(cfg config.GitCatalogConfig) (*Repository, error) {
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local path cannot be empty")
	}
	auth, err := NewAuthProvider(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}
	return &Repository{cfg: cfg, auth: auth}, nil
}

// Clone clones the repository, or opens an existing clone at the local
// path.
func (r *Repository) Clone(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(filepath.Join(r.cfg.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.cfg.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing clone: %w", err)
		}
		r.repo = repo
		return nil
	}

	if err := os.MkdirAll(r.cfg.LocalPath, 0o755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}
	auth, err := r.auth.Auth()
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}

	cloneCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, r.cfg.LocalPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Depth,
		Auth:          auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", r.cfg.Repository, err)
	}
	r.repo = repo
	return nil
}

// Pull fast-forwards the clone to the remote branch.
func (r *Repository) Pull(ctx context.Context) (*PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, fmt.Errorf("repository not initialized, call Clone() first")
	}
	from, err := r.headLocked()
	if err != nil {
		return nil, err
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	auth, err := r.auth.Auth()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth: %w", err)
	}

	pullCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to pull: %w", err)
	}

	to, err := r.headLocked()
	if err != nil {
		return nil, err
	}
	result := &PullResult{FromSHA: from.String(), ToSHA: to.String(), HadChanges: from != to}
	if result.HadChanges {
		if result.ChangedFiles, err = r.changedFilesLocked(from, to); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CurrentCommit describes HEAD.
func (r *Repository) CurrentCommit() (*CommitInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, fmt.Errorf("repository not initialized, call Clone() first")
	}
	head, err := r.headLocked()
	if err != nil {
		return nil, err
	}
	commit, err := r.repo.CommitObject(head)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Timestamp: commit.Author.When,
		Message:   commit.Message,
	}, nil
}

// ReadCatalog returns the catalog file from the working tree.
func (r *Repository) ReadCatalog() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return data, nil
}

// CatalogPath returns the catalog file's path in the working tree.
func (r *Repository) CatalogPath() string {
	return filepath.Join(r.cfg.LocalPath, r.cfg.Path)
}

// AuthType names the configured authentication method.
func (r *Repository) AuthType() string {
	return r.auth.Type()
}

func (r *Repository) headLocked() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get HEAD: %w", err)
	}
	return ref.Hash(), nil
}

func (r *Repository) changedFilesLocked(from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to get from commit: %w", err)
	}
	toCommit, err := r.repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to get to commit: %w", err)
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get from tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get to tree: %w", err)
	}
	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	var files []string
	for _, change := range changes {
		if change.To.Name != "" {
			files = append(files, change.To.Name)
		} else if change.From.Name != "" {
			files = append(files, change.From.Name)
		}
	}
	return files, nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.Timeout)
}
