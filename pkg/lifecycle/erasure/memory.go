package erasure

import (
	"context"
	"sync"

	"mercator-hq/lethe/pkg/lifecycle"
)

// MemoryEraser keeps record copies in a map. It backs development runs and
// tests; failures can be injected per operation.
type MemoryEraser struct {
	name string

	mu      sync.Mutex
	records map[string]struct{}
	calls   int

	// EraseErr, when set, is returned by Erase before anything is removed.
	EraseErr func(rec *lifecycle.Record, attempt int) error

	// Sticky records survive Erase, simulating a store that acknowledges a
	// delete without performing it.
	Sticky map[string]bool
}

// NewMemoryEraser creates an empty memory eraser.
func NewMemoryEraser(name string) *MemoryEraser {
	return &MemoryEraser{name: name, records: make(map[string]struct{})}
}

// Put stores a copy of the record.
func (e *MemoryEraser) Put(ids ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.records[id] = struct{}{}
	}
}

// Calls returns how many times Erase was called.
func (e *MemoryEraser) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Name implements Eraser.
func (e *MemoryEraser) Name() string { return e.name }

// Erase implements Eraser.
func (e *MemoryEraser) Erase(ctx context.Context, rec *lifecycle.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.EraseErr != nil {
		if err := e.EraseErr(rec, e.calls); err != nil {
			return err
		}
	}
	if !e.Sticky[rec.ID] {
		delete(e.records, rec.ID)
	}
	return nil
}

// Exists implements Eraser.
func (e *MemoryEraser) Exists(ctx context.Context, rec *lifecycle.Record) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.records[rec.ID]
	return ok, nil
}
