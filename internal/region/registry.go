// Package region builds the mapping from stable numeric region identifiers
// to named regions of interest, derived from the ordered features of a
// GeoJSON polygon collection.
package region

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Region is one named ROI/sub-location pair. The ID is the 1-based index of
// the feature in the polygon collection and is stable for the lifetime of
// that collection.
type Region struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Sublocation string `json:"sublocation"`
}

// RawDir returns the region's directory under the raw root.
func (r Region) RawDir(rawRoot string) string {
	return filepath.Join(rawRoot, r.Name, r.Sublocation)
}

// FilteredDir returns the region's directory under the filtered root.
func (r Region) FilteredDir(filteredRoot string) string {
	return filepath.Join(filteredRoot, r.Name, r.Sublocation)
}

// ConfigurationError reports a polygon feature that cannot be mapped to a
// region because a required attribute is missing.
type ConfigurationError struct {
	Index int    // 0-based feature index
	Field string // missing attribute name
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("polygon feature %d: missing %q attribute", e.Index, e.Field)
}

// Registry holds the id → region mapping for one run.
type Registry struct {
	regions map[int]Region
}

// Build creates the registry from the ordered polygon features and eagerly
// creates each region's directories under both roots, so later stages never
// need to create region-level directories. Directory creation is idempotent.
func Build(rows []Row, rawRoot, filteredRoot string) (*Registry, error) {
	regions := make(map[int]Region, len(rows))
	for i, row := range rows {
		if row.Name == "" {
			return nil, &ConfigurationError{Index: i, Field: "name"}
		}
		if row.Location == "" {
			return nil, &ConfigurationError{Index: i, Field: "location"}
		}
		reg := Region{ID: i + 1, Name: row.Name, Sublocation: row.Location}
		for _, dir := range []string{reg.RawDir(rawRoot), reg.FilteredDir(filteredRoot)} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create region directory %s: %w", dir, err)
			}
		}
		regions[reg.ID] = reg
	}
	return &Registry{regions: regions}, nil
}

// Lookup resolves a region id. The second return is false when the id has no
// mapping, which callers treat as a routing miss, not an error.
func (r *Registry) Lookup(id int) (Region, bool) {
	reg, ok := r.regions[id]
	return reg, ok
}

// Map returns a copy of the id → region mapping.
func (r *Registry) Map() map[int]Region {
	out := make(map[int]Region, len(r.regions))
	for id, reg := range r.regions {
		out[id] = reg
	}
	return out
}

// IDs returns all region ids in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.regions))
	for id := range r.regions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of registered regions.
func (r *Registry) Len() int {
	return len(r.regions)
}
