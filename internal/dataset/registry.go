package dataset

import (
	"fmt"
	"sort"

	"github.com/aurelle-dev/threadlens/internal/domain"
)

// Entry binds a loaded dataset to the embedding model its vectors were
// built with. Queries against the dataset must use the same model.
type Entry struct {
	Dataset  *Dataset
	Embedder domain.Embedder
}

// Registry is the explicit, construct-once mapping from dataset name to
// its snapshot and embedder. It replaces the original system's lazily
// initialized process globals: main builds it at startup and hands it to
// request handlers, after which it is read-only and safe to share.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers a dataset under its name.
func (r *Registry) Add(e Entry) error {
	name := e.Dataset.Name
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("dataset %q already registered", name)
	}
	r.entries[name] = e
	return nil
}

// Get returns the entry for name, or domain.ErrNotFound.
func (r *Registry) Get(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}
	return e, nil
}

// Names returns the registered dataset names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close releases every dataset. Called once at shutdown.
func (r *Registry) Close() error {
	var first error
	for _, e := range r.entries {
		if err := e.Dataset.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
