package region

import (
	"encoding/json"
	"fmt"
	"os"
)

// Row is the attribute view of one polygon feature.
type Row struct {
	Name     string
	Location string
}

// Collection is a loaded GeoJSON FeatureCollection: the ordered attribute
// rows for registry building plus the raw document for the area-extraction
// request geometry.
type Collection struct {
	Rows []Row
	Raw  json.RawMessage
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Properties map[string]any `json:"properties"`
}

// LoadCollection reads a GeoJSON FeatureCollection from disk. Feature order
// is preserved: the 1-based feature index is the region id embedded in the
// service's output filenames.
func LoadCollection(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ROI collection %s: %w", path, err)
	}

	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse ROI collection %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("ROI collection %s: expected FeatureCollection, got %q", path, fc.Type)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("ROI collection %s: no features", path)
	}

	rows := make([]Row, len(fc.Features))
	for i, f := range fc.Features {
		rows[i] = Row{
			Name:     stringProp(f.Properties, "name"),
			Location: stringProp(f.Properties, "location"),
		}
	}

	return &Collection{Rows: rows, Raw: json.RawMessage(data)}, nil
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
