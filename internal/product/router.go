package product

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoFamily is returned when a key or filename matches no configured family.
var ErrNoFamily = errors.New("no matching product family")

// ErrAmbiguousLayers is returned when a family's layer tokens could shadow
// each other under the filename matcher.
var ErrAmbiguousLayers = errors.New("ambiguous layer tokens")

// Router routes filenames to product families by match token. Exactly one
// family may have an empty match token; it is the fallback for files that
// carry no family token.
type Router struct {
	families []Family
	def      *Family
}

// NewRouter validates the family set and builds a router.
func NewRouter(families []Family) (*Router, error) {
	if len(families) == 0 {
		return nil, errors.New("at least one product family must be configured")
	}

	var def *Family
	seen := make(map[string]bool)
	for i := range families {
		f := &families[i]
		if seen[f.Key] {
			return nil, fmt.Errorf("duplicate product family key %q", f.Key)
		}
		seen[f.Key] = true

		if f.MatchToken == "" {
			if def != nil {
				return nil, fmt.Errorf("families %q and %q both claim the default route", def.Key, f.Key)
			}
			def = f
		}

		if err := validateLayers(*f); err != nil {
			return nil, fmt.Errorf("family %q: %w", f.Key, err)
		}
	}

	return &Router{families: families, def: def}, nil
}

// validateLayers rejects duplicate layer names. Identical names would make
// the per-layer matcher resolve two layers to the same file.
func validateLayers(f Family) error {
	names := make(map[string]bool)
	for _, l := range f.Layers {
		if names[l.Name] {
			return fmt.Errorf("%w: duplicate layer %q", ErrAmbiguousLayers, l.Name)
		}
		names[l.Name] = true
	}
	if f.Primary == "" || !names[f.Primary] {
		return fmt.Errorf("primary layer %q is not in the layer list", f.Primary)
	}
	return nil
}

// Route returns the family a filename belongs to.
func (r *Router) Route(filename string) (Family, error) {
	for _, f := range r.families {
		if f.MatchToken != "" && strings.Contains(filename, f.MatchToken) {
			return f, nil
		}
	}
	if r.def != nil {
		return *r.def, nil
	}
	return Family{}, fmt.Errorf("%w: %s", ErrNoFamily, filename)
}

// ByKey returns the family with the given key.
func (r *Router) ByKey(key string) (Family, error) {
	for _, f := range r.families {
		if f.Key == key {
			return f, nil
		}
	}
	return Family{}, fmt.Errorf("%w: key %q", ErrNoFamily, key)
}

// Families returns all configured families.
func (r *Router) Families() []Family {
	return r.families
}
