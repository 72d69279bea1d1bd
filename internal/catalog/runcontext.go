package catalog

import (
	"sync"

	"github.com/google/uuid"
)

// Kinds of natural keys tracked by a RunContext.
const (
	KindCategory = "category"
	KindProducer = "producer"
	KindUnit     = "unit"
	KindProduct  = "product"
	KindVariant  = "variant"
)

// RunContext is the run-scoped arena of identity maps threaded through the
// transform and load phases. A new one is created for every run, so nothing
// leaks from one run into the next.
//
// The seen sets deduplicate entities during transformation; the id maps hold
// natural key -> surrogate id as the loader resolves them.
type RunContext struct {
	RunID uuid.UUID

	mu   sync.RWMutex
	seen map[string]map[string]struct{}
	ids  map[string]map[string]int64
}

// NewRunContext creates an empty context for the given run.
func NewRunContext(runID uuid.UUID) *RunContext {
	return &RunContext{
		RunID: runID,
		seen:  make(map[string]map[string]struct{}),
		ids:   make(map[string]map[string]int64),
	}
}

// Mark records key under kind and reports whether it was new.
func (rc *RunContext) Mark(kind, key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	set, ok := rc.seen[kind]
	if !ok {
		set = make(map[string]struct{})
		rc.seen[kind] = set
	}
	if _, exists := set[key]; exists {
		return false
	}
	set[key] = struct{}{}
	return true
}

// Seen reports whether key was marked under kind.
func (rc *RunContext) Seen(kind, key string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	_, ok := rc.seen[kind][key]
	return ok
}

// Forget removes key from the seen set of kind.
func (rc *RunContext) Forget(kind, key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.seen[kind], key)
}

// SeenCount returns how many keys were marked under kind.
func (rc *RunContext) SeenCount(kind string) int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.seen[kind])
}

// SetID stores the surrogate id of a natural key.
func (rc *RunContext) SetID(table, key string, id int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	m, ok := rc.ids[table]
	if !ok {
		m = make(map[string]int64)
		rc.ids[table] = m
	}
	m[key] = id
}

// ID returns the surrogate id stored for a natural key.
func (rc *RunContext) ID(table, key string) (int64, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	id, ok := rc.ids[table][key]
	return id, ok
}

// ResetIDs clears all surrogate ids. Called before a transaction is retried,
// since ids handed out by a rolled back transaction are no longer valid.
func (rc *RunContext) ResetIDs() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.ids = make(map[string]map[string]int64)
}
