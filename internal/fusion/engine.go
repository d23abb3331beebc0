// Package fusion turns each downloaded scene's per-layer rasters into the
// raw and quality-filtered products: multi-band GeoTIFFs, pixel CSVs, a
// georeferencing sidecar, and an optional parquet pixel table.
package fusion

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lakewatch/lst-pipeline/internal/ledger"
	"github.com/lakewatch/lst-pipeline/internal/logging"
	"github.com/lakewatch/lst-pipeline/internal/metrics"
	"github.com/lakewatch/lst-pipeline/internal/product"
	"github.com/lakewatch/lst-pipeline/internal/raster"
	"github.com/lakewatch/lst-pipeline/internal/region"
	"github.com/lakewatch/lst-pipeline/internal/scene"
)

// MissingLayerError reports a scene that lacks a required layer file. The
// scene is skipped; the rest of the run proceeds.
type MissingLayerError struct {
	Layer string
	Key   scene.Key
}

func (e *MissingLayerError) Error() string {
	return fmt.Sprintf("scene region=%d date=%s: no file for layer %q", e.Key.RegionID, e.Key.Date, e.Layer)
}

// Artifact is one produced output.
type Artifact struct {
	LocalPath string
	Kind      string // raw_tif | raw_csv | filtered_tif | filtered_csv | metadata | parquet
	Region    region.Region
}

// Publishable reports whether the artifact belongs in the object store.
// Only the filtered raster and table are published; raw products, the
// georeferencing sidecar, and the parquet table stay local.
func (a Artifact) Publishable() bool {
	switch a.Kind {
	case "filtered_tif", "filtered_csv":
		return true
	}
	return false
}

// Engine drives fusion over the scenes of one run.
type Engine struct {
	router       *product.Router
	src          raster.Source
	sink         raster.Sink
	registry     *region.Registry
	rawRoot      string
	filteredRoot string
	run          *ledger.Run
	parquet      bool
	log          *slog.Logger
}

// New builds a fusion engine.
func New(router *product.Router, src raster.Source, sink raster.Sink, registry *region.Registry, rawRoot, filteredRoot string, run *ledger.Run, parquet bool) *Engine {
	return &Engine{
		router:       router,
		src:          src,
		sink:         sink,
		registry:     registry,
		rawRoot:      rawRoot,
		filteredRoot: filteredRoot,
		run:          run,
		parquet:      parquet,
		log:          logging.Component("fusion"),
	}
}

// ProcessAll groups the downloaded files into scenes and fuses each one.
// Scene failures are absorbed; the returned artifacts cover the scenes that
// produced output.
func (e *Engine) ProcessAll(files []string) []Artifact {
	groups := scene.Group(files)
	m := metrics.Get()

	var artifacts []Artifact
	for _, key := range scene.SortedKeys(groups) {
		reg, ok := e.registry.Lookup(key.RegionID)
		if !ok {
			e.log.Warn("scene for unknown region", "region_id", key.RegionID, "date", key.Date)
			continue
		}

		fam, err := e.router.Route(filepath.Base(groups[key][0]))
		if err != nil {
			e.log.Warn("scene matches no product family", "file", groups[key][0], "error", err)
			continue
		}

		start := time.Now()
		out, err := e.processScene(fam, reg, key, groups[key])
		if err != nil {
			e.log.Warn("scene fusion failed", "family", fam.Key,
				"region", reg.Name, "sublocation", reg.Sublocation, "date", key.Date, "error", err)
			e.run.Log("fusion failed: %s %s %s: %v", reg.Name, reg.Sublocation, key.Date, err)
			continue
		}
		if m != nil {
			m.SceneFuseDuration.WithLabelValues(fam.Key).Observe(time.Since(start).Seconds())
		}
		artifacts = append(artifacts, out...)
	}
	return artifacts
}

// processScene runs the full per-scene flow: resolve layers, write the raw
// products, apply the quality masks, gate on validity, and write the
// filtered products.
func (e *Engine) processScene(fam product.Family, reg region.Region, key scene.Key, files []string) ([]Artifact, error) {
	m := metrics.Get()
	log := e.log.With("family", fam.Key, "region", reg.Name, "sublocation", reg.Sublocation, "date", key.Date)

	layerFiles, err := resolveLayers(fam, files, key)
	if err != nil {
		m.IncScenesSkipped(fam.Key, "missing_layer")
		log.Warn("scene skipped", "reason", "missing layer", "error", err)
		e.run.Log("scene skipped (missing layer): %s %s %s", reg.Name, reg.Sublocation, key.Date)
		return nil, nil
	}

	grids, ref, err := e.readLayers(fam, layerFiles)
	if err != nil {
		return nil, err
	}

	base := fmt.Sprintf("%s_%s_%s", reg.Name, reg.Sublocation, key.Date)
	rawDir := reg.RawDir(e.rawRoot)
	filteredDir := reg.FilteredDir(e.filteredRoot)

	// Raw products carry every layer, unscaled and unmasked.
	var artifacts []Artifact
	rawTif := filepath.Join(rawDir, base+"_raw.tif")
	if err := e.sink.WriteBands(rawTif, ref, bandsFor(fam.LayerNames(), grids)); err != nil {
		return nil, fmt.Errorf("write raw raster: %w", err)
	}
	artifacts = append(artifacts, Artifact{LocalPath: rawTif, Kind: "raw_tif", Region: reg})

	rawCSV := filepath.Join(rawDir, base+"_raw.csv")
	if err := writePixelCSV(rawCSV, ref, fam.LayerNames(), grids, ""); err != nil {
		return nil, fmt.Errorf("write raw table: %w", err)
	}
	artifacts = append(artifacts, Artifact{LocalPath: rawCSV, Kind: "raw_csv", Region: reg})

	// First validity gate: a scene whose primary layer is mostly empty is
	// not worth filtering. The raw products stay.
	if frac := grids[fam.Primary].MissingFraction(); frac > fam.MaxMissingFraction {
		m.IncScenesSkipped(fam.Key, "raw_threshold")
		log.Info("scene below validity threshold", "missing_fraction", frac)
		e.run.Log("scene skipped (%.0f%% missing): %s %s %s", frac*100, reg.Name, reg.Sublocation, key.Date)
		return artifacts, nil
	}

	filtered, waterOn := applyMasks(fam, grids)

	// Second gate, on the filtered primary.
	if frac := filtered[fam.Primary].MissingFraction(); frac > fam.MaxMissingFraction {
		m.IncScenesSkipped(fam.Key, "filtered_threshold")
		log.Info("scene below validity threshold after filtering", "missing_fraction", frac)
		e.run.Log("scene skipped after filtering (%.0f%% missing): %s %s %s", frac*100, reg.Name, reg.Sublocation, key.Date)
		return artifacts, nil
	}

	suffix := "_filter"
	if fam.HasWaterMask() && !waterOn {
		suffix = "_filter_wtoff"
	}

	filterNames := make([]string, 0, len(fam.FilterLayers()))
	for _, l := range fam.FilterLayers() {
		filterNames = append(filterNames, l.Name)
	}

	filteredTif := filepath.Join(filteredDir, base+suffix+".tif")
	if err := e.sink.WriteBands(filteredTif, ref, bandsFor(filterNames, filtered)); err != nil {
		return nil, fmt.Errorf("write filtered raster: %w", err)
	}
	artifacts = append(artifacts, Artifact{LocalPath: filteredTif, Kind: "filtered_tif", Region: reg})

	filteredCSV := filepath.Join(filteredDir, base+suffix+".csv")
	if err := writePixelCSV(filteredCSV, ref, filterNames, filtered, fam.Primary); err != nil {
		return nil, fmt.Errorf("write filtered table: %w", err)
	}
	artifacts = append(artifacts, Artifact{LocalPath: filteredCSV, Kind: "filtered_csv", Region: reg})

	metaPath := filepath.Join(filteredDir, fmt.Sprintf("%s_%s_metadata.txt", reg.Name, reg.Sublocation))
	if err := os.WriteFile(metaPath, []byte(ref.Sidecar(len(filterNames))), 0o644); err != nil {
		return nil, fmt.Errorf("write georeferencing sidecar: %w", err)
	}
	artifacts = append(artifacts, Artifact{LocalPath: metaPath, Kind: "metadata", Region: reg})

	if e.parquet {
		pqPath := filepath.Join(filteredDir, base+suffix+".parquet")
		if err := writePixelParquet(pqPath, reg, key.Date, ref, filterNames, filtered, fam.Primary); err != nil {
			return nil, fmt.Errorf("write parquet table: %w", err)
		}
		artifacts = append(artifacts, Artifact{LocalPath: pqPath, Kind: "parquet", Region: reg})
	}

	// The ledger's filtered output record is the raster/table pair; the
	// sidecar and parquet are companions, not products of record.
	e.run.AddFilteredFile(reg.ID, filteredTif)
	e.run.AddFilteredFile(reg.ID, filteredCSV)
	e.run.Log("fused: %s %s %s -> %s", reg.Name, reg.Sublocation, key.Date, filepath.Base(filteredTif))
	m.IncScenesFused(fam.Key)
	log.Info("scene fused", "artifacts", len(artifacts), "water_mask", waterOn)
	return artifacts, nil
}

// resolveLayers matches each configured layer to exactly one file of the
// scene group.
func resolveLayers(fam product.Family, files []string, key scene.Key) (map[string]string, error) {
	out := make(map[string]string, len(fam.Layers))
	for _, l := range fam.Layers {
		matcher := l.Matcher()
		for _, f := range files {
			if matcher.MatchString(filepath.Base(f)) {
				out[l.Name] = f
				break
			}
		}
		if out[l.Name] == "" {
			return nil, &MissingLayerError{Layer: l.Name, Key: key}
		}
	}
	return out, nil
}

// readLayers reads every layer grid and the shared georeferencing. All
// layers of a scene must agree on shape.
func (e *Engine) readLayers(fam product.Family, layerFiles map[string]string) (map[string]*raster.Grid, raster.GeoRef, error) {
	grids := make(map[string]*raster.Grid, len(fam.Layers))
	var ref raster.GeoRef

	for i, l := range fam.Layers {
		ds, err := e.src.Open(layerFiles[l.Name])
		if err != nil {
			return nil, raster.GeoRef{}, err
		}
		g, err := ds.ReadBand1()
		if err != nil {
			ds.Close()
			return nil, raster.GeoRef{}, err
		}
		if i == 0 {
			if ref, err = ds.GeoRef(); err != nil {
				ds.Close()
				return nil, raster.GeoRef{}, err
			}
		}
		ds.Close()

		if g.Width != ref.Width || g.Height != ref.Height {
			return nil, raster.GeoRef{}, fmt.Errorf("layer %q shape %dx%d does not match scene %dx%d",
				l.Name, g.Width, g.Height, ref.Width, ref.Height)
		}
		grids[l.Name] = g
	}
	return grids, ref, nil
}

// applyMasks builds the filtered grids: per-layer scaling gated by QC bits,
// set-membership QC masking, the cloud cut, and the water cut. The water cut
// keeps only water pixels; when a scene contains no water pixels at all the
// cut is skipped entirely and the second return is false, so the outputs can
// carry the water-mask-off marker.
func applyMasks(fam product.Family, grids map[string]*raster.Grid) (map[string]*raster.Grid, bool) {
	invalid := fam.InvalidQCSet()

	var water *raster.Grid
	waterOn := false
	if fam.HasWaterMask() {
		water = grids[fam.WaterLayer]
		for _, v := range water.Data {
			if v == fam.WaterCode {
				waterOn = true
				break
			}
		}
	}

	var cloud *raster.Grid
	if fam.CloudLayer != "" {
		cloud = grids[fam.CloudLayer]
	}

	filtered := make(map[string]*raster.Grid, len(fam.Layers))
	for _, l := range fam.FilterLayers() {
		g := grids[l.Name].Clone()
		qc := grids[fam.QCFor(l)]

		for i := range g.Data {
			if math.IsNaN(g.Data[i]) {
				continue
			}
			if qc != nil {
				qv := qc.Data[i]
				if math.IsNaN(qv) {
					g.Data[i] = math.NaN()
					continue
				}
				if len(invalid) > 0 && invalid[qv] {
					g.Data[i] = math.NaN()
					continue
				}
				if l.Scale != 0 && fam.QCBits != 0 && uint32(qv)&fam.QCBits != 0 {
					g.Data[i] = math.NaN()
					continue
				}
			}
			if cloud != nil && cloud.Data[i] == fam.CloudCode {
				g.Data[i] = math.NaN()
				continue
			}
			if waterOn && water.Data[i] != fam.WaterCode {
				g.Data[i] = math.NaN()
				continue
			}
			if l.Scale != 0 {
				g.Data[i] *= l.Scale
			}
		}
		filtered[l.Name] = g
	}
	return filtered, waterOn
}

// bandsFor assembles the named grids into write order.
func bandsFor(names []string, grids map[string]*raster.Grid) []raster.Band {
	bands := make([]raster.Band, len(names))
	for i, n := range names {
		bands[i] = raster.Band{Name: n, Grid: grids[n]}
	}
	return bands
}
