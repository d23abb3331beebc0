// Package product defines the supported land-surface-temperature product
// families and routes downloaded files to the family they belong to.
package product

import (
	"regexp"
)

// Layer describes one raster layer within a product family. Layer identity
// in filenames is matched by an explicit token matcher (the layer name
// followed by the date-token marker), never by bare substring containment,
// so "LST" can never match an "LST_err" file.
type Layer struct {
	Name    string
	Flag    bool    // flag layers (water, cloud, QC pairs) are not carried into the filtered product
	Scale   float64 // 0 = no unit conversion; otherwise applied on read of the filtered copy
	QCLayer string  // QC layer gating this layer; empty = the family default
}

// Matcher returns the compiled filename matcher for this layer.
func (l Layer) Matcher() *regexp.Regexp {
	// Layer tokens are bounded by "_" or "." on the left and the doy date
	// token on the right in AppEEARS output names, e.g.
	// ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif
	return regexp.MustCompile(`[._]` + regexp.QuoteMeta(l.Name) + `_doy\d{13}`)
}

// Family is the full per-product configuration: the ordered layer list, the
// quality policy, and the validity threshold.
type Family struct {
	Key        string  // short family key, e.g. "ECO"
	Product    string  // service product identifier, e.g. "ECO_L2T_LSTE.002"
	MatchToken string  // filename token that routes a file to this family; empty = default family
	Layers     []Layer // band order of the raw product

	Primary string // primary temperature layer, drives both validity gates

	// Quality policy. InvalidQC is the known-bad code set for set-membership
	// masking; QCBits is a bit mask for families that gate on QC bits
	// instead (a layer with Scale set is gated by the bit test of its own
	// QCLayer, matching the original products' semantics).
	QCLayer   string
	InvalidQC []float64
	QCBits    uint32

	// Flag layers and their trigger codes. Empty layer names disable the
	// corresponding masking step.
	CloudLayer string
	CloudCode  float64
	WaterLayer string
	WaterCode  float64

	// MaxMissingFraction is the abandon threshold for both validity gates:
	// a scene whose primary-layer missing fraction exceeds it is skipped.
	MaxMissingFraction float64
}

// LayerNames returns the ordered layer names (the raw band order).
func (f Family) LayerNames() []string {
	names := make([]string, len(f.Layers))
	for i, l := range f.Layers {
		names[i] = l.Name
	}
	return names
}

// FilterLayers returns the non-flag layers, in band order. These are the
// layers that get a filtered column and a band in the filtered raster.
func (f Family) FilterLayers() []Layer {
	var out []Layer
	for _, l := range f.Layers {
		if !l.Flag {
			out = append(out, l)
		}
	}
	return out
}

// HasWaterMask reports whether this family carries a water flag layer and
// can therefore produce the water-mask-off output variant.
func (f Family) HasWaterMask() bool {
	return f.WaterLayer != ""
}

// QCFor returns the QC layer gating the given layer.
func (f Family) QCFor(l Layer) string {
	if l.QCLayer != "" {
		return l.QCLayer
	}
	return f.QCLayer
}

// InvalidQCSet returns the known-bad QC codes as a set.
func (f Family) InvalidQCSet() map[float64]bool {
	set := make(map[float64]bool, len(f.InvalidQC))
	for _, v := range f.InvalidQC {
		set[v] = true
	}
	return set
}

// Defaults returns the built-in product families.
//
// The abandon thresholds differ on purpose: 0.9 for ECOSTRESS and 0.8 for
// the MODIS daily product, the values the two product lines have always
// used. Both are configurable per family.
func Defaults() []Family {
	return []Family{
		{
			Key:        "ECO",
			Product:    "ECO_L2T_LSTE.002",
			MatchToken: "", // default family
			Layers: []Layer{
				{Name: "LST"},
				{Name: "LST_err"},
				{Name: "QC"},
				{Name: "water", Flag: true},
				{Name: "cloud", Flag: true},
				{Name: "EmisWB"},
				{Name: "height"},
			},
			Primary:            "LST",
			QCLayer:            "QC",
			InvalidQC:          []float64{15, 2501, 3525, 65535},
			CloudLayer:         "cloud",
			CloudCode:          1,
			WaterLayer:         "water",
			WaterCode:          1,
			MaxMissingFraction: 0.9,
		},
		{
			Key:        "MODIS",
			Product:    "MYD11A1.061",
			MatchToken: "MYD11A1",
			Layers: []Layer{
				{Name: "LST_Day_1km", Scale: 0.02, QCLayer: "QC_Day"},
				{Name: "LST_Night_1km", Scale: 0.02, QCLayer: "QC_Night"},
				{Name: "QC_Day", Flag: true},
				{Name: "QC_Night", Flag: true},
				{Name: "Emis_31", Flag: true},
				{Name: "Emis_32", Flag: true},
			},
			Primary:            "LST_Day_1km",
			QCLayer:            "QC_Day",
			QCBits:             0x03,
			MaxMissingFraction: 0.8,
		},
	}
}
