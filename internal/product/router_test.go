package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	r, err := NewRouter(Defaults())
	require.NoError(t, err)
	assert.Len(t, r.Families(), 2)
}

func TestRoute(t *testing.T) {
	r, err := NewRouter(Defaults())
	require.NoError(t, err)

	fam, err := r.Route("MYD11A1.061_LST_Day_1km_doy2025046000000_aid0001.tif")
	require.NoError(t, err)
	assert.Equal(t, "MODIS", fam.Key)

	// Files without a family token fall through to the default family.
	fam, err = r.Route("ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif")
	require.NoError(t, err)
	assert.Equal(t, "ECO", fam.Key)
}

func TestRouteNoDefault(t *testing.T) {
	r, err := NewRouter([]Family{{
		Key:        "MODIS",
		MatchToken: "MYD11A1",
		Layers:     []Layer{{Name: "LST_Day_1km"}},
		Primary:    "LST_Day_1km",
	}})
	require.NoError(t, err)

	_, err = r.Route("unrelated.tif")
	assert.ErrorIs(t, err, ErrNoFamily)
}

func TestNewRouterRejectsDuplicateKeys(t *testing.T) {
	_, err := NewRouter([]Family{
		{Key: "ECO", Layers: []Layer{{Name: "LST"}}, Primary: "LST"},
		{Key: "ECO", MatchToken: "x", Layers: []Layer{{Name: "LST"}}, Primary: "LST"},
	})
	assert.Error(t, err)
}

func TestNewRouterRejectsTwoDefaults(t *testing.T) {
	_, err := NewRouter([]Family{
		{Key: "A", Layers: []Layer{{Name: "LST"}}, Primary: "LST"},
		{Key: "B", Layers: []Layer{{Name: "LST"}}, Primary: "LST"},
	})
	assert.Error(t, err)
}

func TestNewRouterRejectsDuplicateLayers(t *testing.T) {
	_, err := NewRouter([]Family{{
		Key:     "A",
		Layers:  []Layer{{Name: "LST"}, {Name: "LST"}},
		Primary: "LST",
	}})
	assert.ErrorIs(t, err, ErrAmbiguousLayers)
}

func TestNewRouterRejectsMissingPrimary(t *testing.T) {
	_, err := NewRouter([]Family{{
		Key:     "A",
		Layers:  []Layer{{Name: "LST"}},
		Primary: "LST_Day_1km",
	}})
	assert.Error(t, err)
}

func TestByKey(t *testing.T) {
	r, err := NewRouter(Defaults())
	require.NoError(t, err)

	fam, err := r.ByKey("MODIS")
	require.NoError(t, err)
	assert.Equal(t, "MYD11A1.061", fam.Product)

	_, err = r.ByKey("VIIRS")
	assert.ErrorIs(t, err, ErrNoFamily)
}

func TestLayerMatcherIsTokenBounded(t *testing.T) {
	lst := Layer{Name: "LST"}.Matcher()

	assert.True(t, lst.MatchString("ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif"))
	// "LST" must never claim the LST_err file.
	assert.False(t, lst.MatchString("ECO_L2T_LSTE.002_LST_err_doy2025047192336_aid0001.tif"))

	err := Layer{Name: "LST_err"}.Matcher()
	assert.True(t, err.MatchString("ECO_L2T_LSTE.002_LST_err_doy2025047192336_aid0001.tif"))
	assert.False(t, err.MatchString("ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif"))
}

func TestFilterLayers(t *testing.T) {
	r, _ := NewRouter(Defaults())
	eco, err := r.ByKey("ECO")
	require.NoError(t, err)

	names := make([]string, 0)
	for _, l := range eco.FilterLayers() {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"LST", "LST_err", "QC", "EmisWB", "height"}, names)

	modis, err := r.ByKey("MODIS")
	require.NoError(t, err)
	names = names[:0]
	for _, l := range modis.FilterLayers() {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"LST_Day_1km", "LST_Night_1km"}, names)
}

func TestQCFor(t *testing.T) {
	r, _ := NewRouter(Defaults())
	modis, _ := r.ByKey("MODIS")

	night := modis.Layers[1]
	assert.Equal(t, "LST_Night_1km", night.Name)
	assert.Equal(t, "QC_Night", modis.QCFor(night))

	eco, _ := r.ByKey("ECO")
	assert.Equal(t, "QC", eco.QCFor(eco.Layers[0]))
}
