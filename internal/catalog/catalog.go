package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"TableChat/internal/apperr"
	"TableChat/internal/cache"
)

// Change describes one applied snapshot that altered the catalog.
type Change struct {
	Kind Kind
	// Ready lists persistent resources whose analysis finished with this snapshot.
	Ready []string
}

// Listener is notified after a snapshot changed the catalog. It runs without the
// catalog lock held, so it may read the catalog.
type Listener func(Change)

// Catalog holds both resource lists. All mutation goes through its methods.
type Catalog struct {
	mu         sync.Mutex
	persistent []Resource
	ephemeral  []Resource
	listeners  []Listener

	fingerprints *cache.Fingerprints
	logger       *slog.Logger
}

// New creates an empty catalog
func New(logger *slog.Logger) *Catalog {
	return &Catalog{
		fingerprints: cache.NewFingerprints(),
		logger:       logger,
	}
}

// OnChange registers a listener
func (c *Catalog) OnChange(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Catalog) list(kind Kind) *[]Resource {
	if kind == KindEphemeral {
		return &c.ephemeral
	}
	return &c.persistent
}

// Apply merges a fetched snapshot of one kind and reports whether the visible state
// changed. Listeners are only notified on change.
func (c *Catalog) Apply(kind Kind, snapshot []Resource) bool {
	c.mu.Lock()
	cur := c.list(kind)
	old := *cur
	merged := Merge(old, snapshot)
	*cur = merged
	ready := readyTransitions(old, merged)
	changed := c.fingerprints.Swap(string(kind), fingerprint(merged))
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, name := range ready {
		c.logger.Info("table analysis completed", "table", name)
	}
	if !changed {
		return false
	}
	c.logger.Debug("catalog updated", "kind", kind, "count", len(merged))
	for _, l := range listeners {
		l(Change{Kind: kind, Ready: ready})
	}
	return true
}

// fingerprint keys the merged state, selection included.
func fingerprint(rs []Resource) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		data, err := json.Marshal(r)
		if err != nil {
			parts = append(parts, r.Name)
			continue
		}
		parts = append(parts, string(data))
	}
	return cache.GenerateKey(parts...)
}

// Resources returns a copy of the resources of one kind in catalog order
func (c *Catalog) Resources(kind Kind) []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(*c.list(kind))
}

// All returns persistent resources followed by ephemeral ones
func (c *Catalog) All() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := clone(c.persistent)
	return append(out, clone(c.ephemeral)...)
}

func clone(rs []Resource) []Resource {
	out := make([]Resource, len(rs))
	for i, r := range rs {
		r.Columns = append([]Column(nil), r.Columns...)
		out[i] = r
	}
	return out
}

// Find looks a resource up by name across both kinds
func (c *Catalog) Find(name string) (Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.persistent, name); i >= 0 {
		return c.persistent[i], true
	}
	if i := indexOf(c.ephemeral, name); i >= 0 {
		return c.ephemeral[i], true
	}
	return Resource{}, false
}

// Contains reports whether a resource of the given kind exists
func (c *Catalog) Contains(kind Kind, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return indexOf(*c.list(kind), name) >= 0
}

func indexOf(rs []Resource, name string) int {
	for i, r := range rs {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// SetSelected sets the selection flag of a resource
func (c *Catalog) SetSelected(name string, selected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rs := range [][]Resource{c.persistent, c.ephemeral} {
		if i := indexOf(rs, name); i >= 0 {
			rs[i].Selected = selected
			return nil
		}
	}
	return apperr.Validation("table", fmt.Sprintf("Unknown table %q", name))
}

// Toggle flips the selection flag of a resource and returns the new value
func (c *Catalog) Toggle(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rs := range [][]Resource{c.persistent, c.ephemeral} {
		if i := indexOf(rs, name); i >= 0 {
			rs[i].Selected = !rs[i].Selected
			return rs[i].Selected, nil
		}
	}
	return false, apperr.Validation("table", fmt.Sprintf("Unknown table %q", name))
}

// SelectedNames returns the selected persistent and ephemeral names, each in catalog order
func (c *Catalog) SelectedNames() (persistent, ephemeral []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return selectedNames(c.persistent), selectedNames(c.ephemeral)
}

func selectedNames(rs []Resource) []string {
	var names []string
	for _, r := range rs {
		if r.Selected {
			names = append(names, r.Name)
		}
	}
	return names
}

// HasPending reports whether any persistent resource is still being analyzed
func (c *Catalog) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.persistent {
		if r.AnalysisPending {
			return true
		}
	}
	return false
}

// MarkPending records a persistent resource that was just added, ahead of the next fetch.
// An existing entry is left alone.
func (c *Catalog) MarkPending(name, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if indexOf(c.persistent, name) >= 0 {
		return
	}
	if description == "" {
		description = pendingDescription
	}
	c.persistent = append(c.persistent, Resource{
		Name:            name,
		Kind:            KindPersistent,
		DisplayLabel:    name,
		Description:     description,
		AnalysisPending: true,
		Optimistic:      true,
	})
}

// AddEphemeral records an ephemeral resource that was just uploaded, ahead of the next fetch.
func (c *Catalog) AddEphemeral(r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if indexOf(c.ephemeral, r.Name) >= 0 {
		return
	}
	r.Kind = KindEphemeral
	r.Optimistic = true
	r.Selected = false
	c.ephemeral = append(c.ephemeral, r)
}

// Remove drops a resource after the backend confirmed its deletion
func (c *Catalog) Remove(kind Kind, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.list(kind)
	i := indexOf(*cur, name)
	if i < 0 {
		return false
	}
	*cur = append((*cur)[:i:i], (*cur)[i+1:]...)
	return true
}
