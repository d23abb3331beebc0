// Package raster abstracts single-band reads and multi-band writes of
// georeferenced rasters. Grids use NaN as the in-memory missing value; the
// GDAL-backed implementation translates to and from the on-disk nodata
// sentinel at the boundary.
package raster

import (
	"fmt"
	"math"
	"strings"
)

// NoDataValue is the nodata sentinel written into output rasters.
const NoDataValue = -9999.0

// Grid is one band's pixel values in row-major order. Missing pixels are NaN.
type Grid struct {
	Width  int
	Height int
	Data   []float64
}

// NewGrid allocates a grid of the given shape.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Data: make([]float64, width*height)}
}

// Len returns the number of pixels.
func (g *Grid) Len() int { return len(g.Data) }

// MissingFraction returns the fraction of NaN pixels, or 0 for an empty grid.
func (g *Grid) MissingFraction() float64 {
	if len(g.Data) == 0 {
		return 0
	}
	missing := 0
	for _, v := range g.Data {
		if math.IsNaN(v) {
			missing++
		}
	}
	return float64(missing) / float64(len(g.Data))
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Width, g.Height)
	copy(out.Data, g.Data)
	return out
}

// GeoRef is the georeferencing carried from the first input layer to every
// output raster of a scene.
type GeoRef struct {
	Width     int
	Height    int
	Transform [6]float64 // GDAL-order affine geotransform
	WKT       string     // spatial reference, WKT form
}

// Sidecar renders the georeferencing description written next to each
// filtered raster for downstream consumers.
func (r GeoRef) Sidecar(bandCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "driver: GTiff\n")
	fmt.Fprintf(&b, "dtype: float32\n")
	fmt.Fprintf(&b, "nodata: %g\n", NoDataValue)
	fmt.Fprintf(&b, "width: %d\n", r.Width)
	fmt.Fprintf(&b, "height: %d\n", r.Height)
	fmt.Fprintf(&b, "count: %d\n", bandCount)
	fmt.Fprintf(&b, "transform: [%g, %g, %g, %g, %g, %g]\n",
		r.Transform[0], r.Transform[1], r.Transform[2],
		r.Transform[3], r.Transform[4], r.Transform[5])
	fmt.Fprintf(&b, "crs: %s\n", r.WKT)
	return b.String()
}

// Band pairs a grid with its band name for multi-band writes.
type Band struct {
	Name string
	Grid *Grid
}

// Dataset is an open single-layer raster.
type Dataset interface {
	// ReadBand1 reads the first band, with nodata mapped to NaN.
	ReadBand1() (*Grid, error)

	// GeoRef returns the dataset's georeferencing.
	GeoRef() (GeoRef, error)

	// Close releases the underlying handle.
	Close() error
}

// Source opens rasters for reading.
type Source interface {
	Open(path string) (Dataset, error)
}

// Sink writes multi-band rasters.
type Sink interface {
	// WriteBands writes the bands in order with the given georeferencing.
	// NaN pixels are written as the nodata sentinel.
	WriteBands(path string, ref GeoRef, bands []Band) error
}
