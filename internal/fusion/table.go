package fusion

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/lakewatch/lst-pipeline/internal/raster"
	"github.com/lakewatch/lst-pipeline/internal/region"
)

// writePixelCSV writes one row per pixel: the pixel's column and row
// indices, then one column per layer. Geographic placement lives in the
// raster and its sidecar; the tables address pixels by grid position.
// Missing values render as empty cells. When dropNaNPrimary names a layer,
// rows where that layer is missing are dropped.
func writePixelCSV(path string, ref raster.GeoRef, names []string, grids map[string]*raster.Grid, dropNaNPrimary string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"x", "y"}, names...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for row := 0; row < ref.Height; row++ {
		for col := 0; col < ref.Width; col++ {
			i := row*ref.Width + col

			if dropNaNPrimary != "" && math.IsNaN(grids[dropNaNPrimary].Data[i]) {
				continue
			}

			record[0] = strconv.Itoa(col)
			record[1] = strconv.Itoa(row)
			for j, n := range names {
				v := grids[n].Data[i]
				if math.IsNaN(v) {
					record[j+2] = ""
				} else {
					record[j+2] = strconv.FormatFloat(v, 'f', -1, 64)
				}
			}
			if err := w.Write(record); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

// PixelRow is the long-form parquet record: one row per (pixel, layer) with
// a present value. X and Y are the pixel's column and row indices, matching
// the CSV tables.
type PixelRow struct {
	Region      string  `parquet:"region,dict"`
	Sublocation string  `parquet:"sublocation,dict"`
	Date        string  `parquet:"date,dict"`
	X           int32   `parquet:"x"`
	Y           int32   `parquet:"y"`
	Layer       string  `parquet:"layer,dict"`
	Value       float64 `parquet:"value"`
}

// writePixelParquet writes the filtered layers as a long-form pixel table.
// Rows where the primary layer is missing are dropped, matching the CSV.
func writePixelParquet(path string, reg region.Region, date string, ref raster.GeoRef, names []string, grids map[string]*raster.Grid, primary string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := parquet.NewGenericWriter[PixelRow](f)

	var rows []PixelRow
	for row := 0; row < ref.Height; row++ {
		for col := 0; col < ref.Width; col++ {
			i := row*ref.Width + col
			if math.IsNaN(grids[primary].Data[i]) {
				continue
			}
			for _, n := range names {
				v := grids[n].Data[i]
				if math.IsNaN(v) {
					continue
				}
				rows = append(rows, PixelRow{
					Region:      reg.Name,
					Sublocation: reg.Sublocation,
					Date:        date,
					X:           int32(col),
					Y:           int32(row),
					Layer:       n,
					Value:       v,
				})
			}
		}
	}

	if _, err := w.Write(rows); err != nil {
		w.Close()
		f.Close()
		return fmt.Errorf("write rows to %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}
