package raster

import (
	"math"
	"strings"
	"testing"
)

func TestMissingFraction(t *testing.T) {
	g := NewGrid(2, 2)
	copy(g.Data, []float64{300, math.NaN(), 302, math.NaN()})
	if got := g.MissingFraction(); got != 0.5 {
		t.Errorf("MissingFraction = %v, want 0.5", got)
	}

	empty := &Grid{}
	if got := empty.MissingFraction(); got != 0 {
		t.Errorf("empty MissingFraction = %v, want 0", got)
	}
}

func TestClone(t *testing.T) {
	g := NewGrid(2, 1)
	g.Data[0] = 300

	c := g.Clone()
	c.Data[0] = 0
	if g.Data[0] != 300 {
		t.Error("Clone shares backing storage")
	}
}

func TestSidecar(t *testing.T) {
	ref := GeoRef{
		Width:     3,
		Height:    2,
		Transform: [6]float64{100, 10, 0, 200, 0, -10},
		WKT:       `GEOGCS["WGS 84"]`,
	}

	text := ref.Sidecar(5)
	for _, want := range []string{
		"driver: GTiff",
		"nodata: -9999",
		"width: 3",
		"height: 2",
		"count: 5",
		"transform: [100, 10, 0, 200, 0, -10]",
		`crs: GEOGCS["WGS 84"]`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("sidecar missing %q:\n%s", want, text)
		}
	}
}

func TestMemSourceAndSink(t *testing.T) {
	src := NewMemSource()
	g := NewGrid(1, 1)
	g.Data[0] = 300
	src.Add("/a.tif", g, GeoRef{Width: 1, Height: 1})

	ds, err := src.Open("/a.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := ds.ReadBand1()
	if err != nil {
		t.Fatalf("ReadBand1: %v", err)
	}
	got.Data[0] = 0
	if g.Data[0] != 300 {
		t.Error("ReadBand1 shares backing storage with the source")
	}

	if _, err := src.Open("/missing.tif"); err == nil {
		t.Error("Open of unknown path succeeded")
	}

	sink := NewMemSink()
	if err := sink.WriteBands("/out.tif", GeoRef{Width: 1, Height: 1}, []Band{{Name: "LST", Grid: g}}); err != nil {
		t.Fatalf("WriteBands: %v", err)
	}
	if got := sink.Paths(); len(got) != 1 || got[0] != "/out.tif" {
		t.Errorf("Paths = %v", got)
	}
}
