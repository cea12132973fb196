package erasure

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mercator-hq/lethe/pkg/lifecycle"
)

// FileEraser removes every backup generation of a record from disk.
// Patterns are filepath.Match globs after placeholder expansion. Substituted
// values must be single literal path segments, so a record can never widen a
// pattern to another subject's files.
type FileEraser struct {
	name     string
	patterns []string
}

// NewFileEraser creates a file backup eraser.
func NewFileEraser(name string, patterns []string) *FileEraser {
	return &FileEraser{name: name, patterns: patterns}
}

func (e *FileEraser) matches(rec *lifecycle.Record) ([]string, error) {
	var out []string
	for _, pattern := range e.patterns {
		expanded, err := expandPath(pattern, rec)
		if err != nil {
			return nil, fmt.Errorf("expand pattern %q on %s: %w", pattern, e.name, err)
		}
		paths, err := filepath.Glob(expanded)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q on %s: %w", pattern, e.name, err)
		}
		out = append(out, paths...)
	}
	return out, nil
}

// expandPath substitutes the placeholders used by pattern after checking
// that every substituted value is a literal path segment.
func expandPath(pattern string, rec *lifecycle.Record) (string, error) {
	values := []struct{ placeholder, field, value string }{
		{"{record_id}", "record_id", rec.ID},
		{"{owner_id}", "owner_id", rec.OwnerID},
		{"{category}", "category", rec.Category},
	}
	for _, v := range values {
		if !strings.Contains(pattern, v.placeholder) {
			continue
		}
		if err := lifecycle.ValidateIdentifier(v.field, v.value); err != nil {
			return "", err
		}
	}
	return expand(pattern, rec), nil
}

// Name implements Eraser.
func (e *FileEraser) Name() string { return e.name }

// Erase implements Eraser.
func (e *FileEraser) Erase(ctx context.Context, rec *lifecycle.Record) error {
	paths, err := e.matches(rec)
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("remove backups on %s: %w", e.name, errors.Join(errs...))
	}
	return nil
}

// Exists implements Eraser.
func (e *FileEraser) Exists(ctx context.Context, rec *lifecycle.Record) (bool, error) {
	paths, err := e.matches(rec)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}
