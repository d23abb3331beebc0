package raster

import (
	"fmt"
	"sort"
)

// MemDataset is an in-memory Dataset for tests.
type MemDataset struct {
	Grid *Grid
	Ref  GeoRef
}

func (d *MemDataset) ReadBand1() (*Grid, error) { return d.Grid.Clone(), nil }
func (d *MemDataset) GeoRef() (GeoRef, error)   { return d.Ref, nil }
func (d *MemDataset) Close() error              { return nil }

// MemSource serves rasters from a path-keyed map.
type MemSource struct {
	Files map[string]*MemDataset
}

func NewMemSource() *MemSource {
	return &MemSource{Files: make(map[string]*MemDataset)}
}

// Add registers a dataset under the given path.
func (s *MemSource) Add(path string, grid *Grid, ref GeoRef) {
	s.Files[path] = &MemDataset{Grid: grid, Ref: ref}
}

func (s *MemSource) Open(path string) (Dataset, error) {
	ds, ok := s.Files[path]
	if !ok {
		return nil, fmt.Errorf("open raster %s: not found", path)
	}
	return ds, nil
}

// MemWrite is one captured WriteBands call.
type MemWrite struct {
	Ref   GeoRef
	Bands []Band
}

// MemSink records written rasters instead of producing files.
type MemSink struct {
	Written map[string]MemWrite
}

func NewMemSink() *MemSink {
	return &MemSink{Written: make(map[string]MemWrite)}
}

func (s *MemSink) WriteBands(path string, ref GeoRef, bands []Band) error {
	cp := make([]Band, len(bands))
	for i, b := range bands {
		cp[i] = Band{Name: b.Name, Grid: b.Grid.Clone()}
	}
	s.Written[path] = MemWrite{Ref: ref, Bands: cp}
	return nil
}

// Paths returns the written paths in sorted order.
func (s *MemSink) Paths() []string {
	paths := make([]string, 0, len(s.Written))
	for p := range s.Written {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
