// Package catalog keeps the per-run table name to dataset registry that
// queries resolve against.
package catalog

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

var ErrSealed = errors.New("catalog: registry is sealed")

type Entry struct {
	Name         string
	Dataset      *dataset.Dataset
	RegisteredAt time.Time
}

type Pending struct {
	Name    string
	Dataset *dataset.Dataset
}

// Registry maps table names to datasets. Names are unique ignoring case and
// are never replaced or removed. A successful registration transfers the
// caller's dataset reference to the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	sealed  bool
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}, now: time.Now}
}

func (r *Registry) Register(name string, ds *dataset.Dataset) error {
	return r.RegisterAll([]Pending{{Name: name, Dataset: ds}})
}

// RegisterAll registers every pending dataset or none of them.
func (r *Registry) RegisterAll(pending []Pending) error {
	const op = "register tables"
	batch := make(map[string]string, len(pending))
	for _, p := range pending {
		if !source.ValidTableName(p.Name) {
			return lakeerr.Errorf(lakeerr.KindConfig, op, "invalid table name %q", p.Name)
		}
		if p.Dataset == nil {
			return lakeerr.Errorf(lakeerr.KindSchema, op, "table %q has no dataset", p.Name)
		}
		key := strings.ToLower(p.Name)
		if previous, ok := batch[key]; ok {
			return lakeerr.Errorf(lakeerr.KindDuplicateName, op, "table %q conflicts with %q", p.Name, previous)
		}
		batch[key] = p.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return lakeerr.E(lakeerr.KindConfig, op, ErrSealed)
	}
	for key, name := range batch {
		if existing, ok := r.entries[key]; ok {
			return lakeerr.Errorf(lakeerr.KindDuplicateName, op, "table %q is already registered as %q", name, existing.Name)
		}
	}
	at := r.now().UTC()
	for _, p := range pending {
		r.entries[strings.ToLower(p.Name)] = Entry{Name: p.Name, Dataset: p.Dataset, RegisteredAt: at}
	}
	return nil
}

func (r *Registry) Lookup(name string) (*dataset.Dataset, error) {
	entry, err := r.Entry(name)
	if err != nil {
		return nil, err
	}
	return entry.Dataset, nil
}

func (r *Registry) Entry(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return Entry{}, lakeerr.Errorf(lakeerr.KindNotFound, "lookup table", "table %q is not registered", name)
	}
	return entry, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.entries {
		entry.Dataset.Release()
		delete(r.entries, key)
	}
	r.sealed = true
}
