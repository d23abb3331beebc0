package raster

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
)

var registerOnce sync.Once

// GDAL is the godal-backed Source and Sink used in production.
type GDAL struct{}

// NewGDAL registers the GDAL drivers once and returns the implementation.
func NewGDAL() GDAL {
	registerOnce.Do(godal.RegisterAll)
	return GDAL{}
}

// Open opens a raster file for reading.
func (GDAL) Open(path string) (Dataset, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", path, err)
	}
	return &gdalDataset{ds: ds, path: path}, nil
}

type gdalDataset struct {
	ds   *godal.Dataset
	path string
}

func (d *gdalDataset) ReadBand1() (*Grid, error) {
	st := d.ds.Structure()
	if st.NBands < 1 {
		return nil, fmt.Errorf("raster %s has no bands", d.path)
	}

	band := d.ds.Bands()[0]
	grid := NewGrid(st.SizeX, st.SizeY)
	if err := band.Read(0, 0, grid.Data, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("read band 1 of %s: %w", d.path, err)
	}

	if nodata, ok := band.NoData(); ok {
		for i, v := range grid.Data {
			if v == nodata {
				grid.Data[i] = math.NaN()
			}
		}
	}
	return grid, nil
}

func (d *gdalDataset) GeoRef() (GeoRef, error) {
	st := d.ds.Structure()
	ref := GeoRef{Width: st.SizeX, Height: st.SizeY}

	gt, err := d.ds.GeoTransform()
	if err != nil {
		return GeoRef{}, fmt.Errorf("geotransform of %s: %w", d.path, err)
	}
	ref.Transform = gt

	if sr := d.ds.SpatialRef(); sr != nil {
		if wkt, err := sr.WKT(); err == nil {
			ref.WKT = wkt
		}
	}
	return ref, nil
}

func (d *gdalDataset) Close() error {
	return d.ds.Close()
}

// WriteBands writes a multi-band float32 GeoTIFF with NaN pixels stored as
// the nodata sentinel.
func (GDAL) WriteBands(path string, ref GeoRef, bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("write %s: no bands", path)
	}

	ds, err := godal.Create(godal.GTiff, path, len(bands), godal.Float32, ref.Width, ref.Height)
	if err != nil {
		return fmt.Errorf("create raster %s: %w", path, err)
	}

	if err := ds.SetGeoTransform(ref.Transform); err != nil {
		ds.Close()
		return fmt.Errorf("set geotransform on %s: %w", path, err)
	}
	if ref.WKT != "" {
		sr, err := godal.NewSpatialRefFromWKT(ref.WKT)
		if err != nil {
			ds.Close()
			return fmt.Errorf("parse spatial reference for %s: %w", path, err)
		}
		err = ds.SetSpatialRef(sr)
		sr.Close()
		if err != nil {
			ds.Close()
			return fmt.Errorf("set spatial reference on %s: %w", path, err)
		}
	}

	buf := make([]float64, ref.Width*ref.Height)
	for i, b := range bands {
		if b.Grid.Width != ref.Width || b.Grid.Height != ref.Height {
			ds.Close()
			return fmt.Errorf("write %s: band %q shape %dx%d does not match %dx%d",
				path, b.Name, b.Grid.Width, b.Grid.Height, ref.Width, ref.Height)
		}

		gb := ds.Bands()[i]
		if err := gb.SetNoData(NoDataValue); err != nil {
			ds.Close()
			return fmt.Errorf("set nodata on %s band %d: %w", path, i+1, err)
		}

		for j, v := range b.Grid.Data {
			if math.IsNaN(v) {
				buf[j] = NoDataValue
			} else {
				buf[j] = v
			}
		}
		if err := gb.Write(0, 0, buf, ref.Width, ref.Height); err != nil {
			ds.Close()
			return fmt.Errorf("write band %d of %s: %w", i+1, path, err)
		}
	}

	return ds.Close()
}
