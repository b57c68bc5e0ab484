package shutdown

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// DefaultRegistry is the process-wide registry used when none is configured.
var DefaultRegistry = NewRegistry(nil)

// Registry tracks open resources by name so that they can be closed at exit.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]entry
	logger  *slog.Logger
}

type entry struct {
	name   string
	closer io.Closer
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[uint64]entry),
		logger:  logger,
	}
}

func (r *Registry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Register adds c under name and returns a handle for Unregister.
func (r *Registry) Register(name string, c io.Closer) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries[r.nextID] = entry{name: name, closer: c}
	return r.nextID
}

// Unregister removes the entry with the given handle.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Open returns the names of registered entries in registration order.
func (r *Registry) Open() []string {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = r.entries[id].name
	}
	r.mu.Unlock()
	return names
}

// Drain warns about and closes every entry still registered, newest first.
// Entries may unregister themselves while being closed. Drain stops early
// when ctx is done and returns the context error; otherwise it returns the
// last close error.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.entries))
	pending := make(map[uint64]entry, len(r.entries))
	for id, e := range r.entries {
		ids = append(ids, id)
		pending[id] = e
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := pending[id]
		r.log().Warn("store was not closed before exit, closing it", "path", e.name)
		if err := e.closer.Close(); err != nil {
			r.log().Error("failed to close store", "path", e.name, "error", err)
			lastErr = err
		}
		r.Unregister(id)
	}
	return lastErr
}
