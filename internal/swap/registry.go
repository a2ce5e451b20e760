package swap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/monerizer/monerizerd/internal/storage"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// Registry is the process-wide swap map. Every mutation happens under
// one mutex and is followed by an atomic snapshot to disk. Network I/O
// never runs under the lock; callers snapshot, do their I/O, then apply
// the delta through Apply.
type Registry struct {
	mu    sync.Mutex
	swaps map[string]*Swap
	snap  *storage.Snapshot
	log   *logging.Logger
}

// NewRegistry creates a registry backed by the given snapshot store and
// restores any previously persisted swaps.
func NewRegistry(snap *storage.Snapshot) (*Registry, error) {
	r := &Registry{
		swaps: make(map[string]*Swap),
		snap:  snap,
		log:   logging.GetDefault().Component("registry"),
	}
	if err := snap.Load(&r.swaps); err != nil {
		return nil, fmt.Errorf("failed to restore swaps: %w", err)
	}
	if n := len(r.swaps); n > 0 {
		r.log.Info("Restored swaps from disk", "count", n)
	}
	return r, nil
}

// Put inserts a new swap and persists the registry.
func (r *Registry) Put(s *Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.swaps[s.ID] = s.Clone()
	return r.persistLocked()
}

// Get returns a deep copy of a swap.
func (r *Registry) Get(id string) (*Swap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.swaps[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// IDs returns all swap ids, newest first.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.swaps))
	for id := range r.swaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		return r.swaps[ids[a]].CreatedAt.After(r.swaps[ids[b]].CreatedAt)
	})
	return ids
}

// List returns deep copies of all swaps, newest first.
func (r *Registry) List() []*Swap {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Swap, 0, len(r.swaps))
	for _, s := range r.swaps {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Len returns the number of swaps.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.swaps)
}

// Apply mutates one swap under the lock, compacts its timeline, persists
// the registry and returns a copy of the updated swap. The mutator must
// not perform I/O.
func (r *Registry) Apply(id string, fn func(*Swap)) (*Swap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.swaps[id]
	if !ok {
		return nil, false
	}
	fn(s)
	s.Timeline = compactTimeline(s.Timeline)
	if err := r.persistLocked(); err != nil {
		r.log.Error("Failed to persist swaps", "error", err)
	}
	return s.Clone(), true
}

func (r *Registry) persistLocked() error {
	return r.snap.Save(r.swaps)
}
