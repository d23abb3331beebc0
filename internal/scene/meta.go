// Package scene handles the filename conventions that bind downloaded files
// to regions and acquisition dates. The 4-digit region identifier and the
// 13-character date token (year + day-of-year + time) embedded in each
// filename are the wire contract between the download and fusion stages.
package scene

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var (
	aidPattern  = regexp.MustCompile(`aid(\d{4})`)
	datePattern = regexp.MustCompile(`doy(\d{13})`)
)

// Meta is the identity parsed from a filename. RegionID is 0 and Date is
// empty when the corresponding token is absent.
type Meta struct {
	RegionID int
	Date     string
}

// ExtractMeta parses the region identifier and date token from a filename.
func ExtractMeta(filename string) Meta {
	var m Meta
	if match := aidPattern.FindStringSubmatch(filename); match != nil {
		m.RegionID, _ = strconv.Atoi(match[1])
	}
	if match := datePattern.FindStringSubmatch(filename); match != nil {
		m.Date = match[1]
	}
	return m
}

// Key identifies one scene: the per-layer rasters for one region at one
// acquisition date.
type Key struct {
	RegionID int
	Date     string
}

// Group buckets files by (region, date). Files missing either token are
// dropped; they carry no scene identity and were already archived by the
// download stage.
func Group(files []string) map[Key][]string {
	groups := make(map[Key][]string)
	for _, f := range files {
		m := ExtractMeta(filepath.Base(f))
		if m.RegionID == 0 || m.Date == "" {
			continue
		}
		k := Key{RegionID: m.RegionID, Date: m.Date}
		groups[k] = append(groups[k], f)
	}
	return groups
}

// SortedKeys returns the scene keys ordered by region id then date, so one
// run processes groups deterministically even though ordering is not a
// correctness requirement.
func SortedKeys(groups map[Key][]string) []Key {
	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RegionID != keys[j].RegionID {
			return keys[i].RegionID < keys[j].RegionID
		}
		return keys[i].Date < keys[j].Date
	})
	return keys
}

// DayOfYear extracts the 3-digit day-of-year component from a date token.
// Used by the retention sweep for age comparisons.
func DayOfYear(date string) (int, bool) {
	if len(date) < 7 {
		return 0, false
	}
	doy, err := strconv.Atoi(date[4:7])
	if err != nil {
		return 0, false
	}
	return doy, true
}
