// Package registry holds the set of monitored and writable data points.
//
// The registry is copy-on-write: every mutation builds a fresh snapshot and
// publishes it atomically, so concurrent readers (the collector, the command
// gate) always observe a consistent point list and never a half-applied edit.
package registry

import (
	"log/slog"
	"sync"

	apperrors "github.com/tetherview/scadabridge/pkg/errors"
)

// Definition describes a single process point.
type Definition struct {
	// ID is the stable operator-facing identifier, e.g. "pt1".
	ID string `json:"id"`
	// Tag is the upstream address, e.g. "DP_155700".
	Tag string `json:"tag"`
	// Name is an optional display name.
	Name string `json:"name,omitempty"`
	// Unit is the display unit, e.g. "bar".
	Unit string `json:"unit,omitempty"`
	// SafetyMin/SafetyMax bound proposed writes when both are set.
	SafetyMin *float64 `json:"safety_min,omitempty"`
	SafetyMax *float64 `json:"safety_max,omitempty"`
	// Writable marks the point as a valid write target.
	Writable bool `json:"writable"`
}

// HasRange reports whether the definition carries a safety range.
func (d Definition) HasRange() bool {
	return d.SafetyMin != nil && d.SafetyMax != nil
}

// InRange reports whether v falls inside the safety range. Points without a
// range accept any value.
func (d Definition) InRange(v float64) bool {
	if !d.HasRange() {
		return true
	}
	return v >= *d.SafetyMin && v <= *d.SafetyMax
}

// Snapshot is an immutable, ordered view of the registry. Callers must not
// mutate the returned definitions.
type Snapshot struct {
	defs  []Definition
	byID  map[string]int
	byTag map[string]int
}

// Points returns the definitions in display order.
func (s *Snapshot) Points() []Definition {
	return s.defs
}

// Len returns the number of definitions.
func (s *Snapshot) Len() int {
	return len(s.defs)
}

// Get looks up a definition by identifier.
func (s *Snapshot) Get(id string) (Definition, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Definition{}, false
	}
	return s.defs[i], true
}

// GetByTag looks up a definition by upstream tag.
func (s *Snapshot) GetByTag(tag string) (Definition, bool) {
	i, ok := s.byTag[tag]
	if !ok {
		return Definition{}, false
	}
	return s.defs[i], true
}

// Resolve maps an identifier or an upstream tag to a definition. Operators
// and the inference collaborator address points by ID; the upstream speaks
// tags, so both spellings are accepted.
func (s *Snapshot) Resolve(idOrTag string) (Definition, bool) {
	if def, ok := s.Get(idOrTag); ok {
		return def, true
	}
	return s.GetByTag(idOrTag)
}

func newSnapshot(defs []Definition) *Snapshot {
	snap := &Snapshot{
		defs:  defs,
		byID:  make(map[string]int, len(defs)),
		byTag: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		snap.byID[d.ID] = i
		snap.byTag[d.Tag] = i
	}
	return snap
}

// Registry owns the point definitions.
type Registry struct {
	mu      sync.Mutex
	current *Snapshot
	store   *Store
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore attaches a persistence store; mutations are saved through it.
func WithStore(store *Store) Option {
	return func(r *Registry) { r.store = store }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New builds a registry seeded with the given definitions.
func New(defs []Definition, opts ...Option) *Registry {
	r := &Registry{
		current: newSnapshot(append([]Definition(nil), defs...)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Get looks up a definition by identifier in the current snapshot.
func (r *Registry) Get(id string) (Definition, bool) {
	return r.Snapshot().Get(id)
}

// Add inserts a new definition at the end of the display order.
func (r *Registry) Add(def Definition) error {
	if def.ID == "" || def.Tag == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "point id and tag are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.current.byID[def.ID]; exists {
		return apperrors.Newf(apperrors.ErrCodeDuplicateIdentifier, "point %q already exists", def.ID)
	}

	defs := append(append([]Definition(nil), r.current.defs...), def)
	r.publish(defs)
	r.logger.Info("point added", "id", def.ID, "tag", def.Tag)
	return nil
}

// Update replaces the definition with the same identifier.
func (r *Registry) Update(id string, def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, exists := r.current.byID[id]
	if !exists {
		return apperrors.Newf(apperrors.ErrCodeUnknownIdentifier, "point %q not found", id)
	}
	def.ID = id

	defs := append([]Definition(nil), r.current.defs...)
	defs[i] = def
	r.publish(defs)
	r.logger.Info("point updated", "id", id, "tag", def.Tag)
	return nil
}

// Remove deletes a definition. Removing an unknown identifier is a no-op;
// in-flight telemetry reads keep working against their own snapshot.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, exists := r.current.byID[id]
	if !exists {
		return
	}

	defs := make([]Definition, 0, len(r.current.defs)-1)
	defs = append(defs, r.current.defs[:i]...)
	defs = append(defs, r.current.defs[i+1:]...)
	r.publish(defs)
	r.logger.Info("point removed", "id", id)
}

// Reorder atomically replaces the display ordering. Every identifier in the
// sequence must exist; identifiers not mentioned keep their relative order
// after the reordered ones. On error the ordering is left unchanged.
func (r *Registry) Reorder(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if _, exists := r.current.byID[id]; !exists {
			return apperrors.Newf(apperrors.ErrCodeUnknownIdentifier, "point %q not found", id)
		}
	}

	picked := make(map[string]bool, len(ids))
	defs := make([]Definition, 0, len(r.current.defs))
	for _, id := range ids {
		if picked[id] {
			continue
		}
		picked[id] = true
		defs = append(defs, r.current.defs[r.current.byID[id]])
	}
	for _, d := range r.current.defs {
		if !picked[d.ID] {
			defs = append(defs, d)
		}
	}

	r.publish(defs)
	return nil
}

// Replace swaps the entire definition set. Used by the file watcher when
// points.json changes on disk.
func (r *Registry) Replace(defs []Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = newSnapshot(append([]Definition(nil), defs...))
	r.logger.Info("point set replaced", "count", len(defs))
}

// publish installs a new snapshot and persists it. Callers hold r.mu.
func (r *Registry) publish(defs []Definition) {
	r.current = newSnapshot(defs)
	if r.store != nil {
		if err := r.store.Save(defs); err != nil {
			r.logger.Error("failed to persist points", "error", err)
		}
	}
}
