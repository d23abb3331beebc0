// Package ledger records what a run did: a human-readable append log kept
// while the run progresses and a JSON manifest written when it ends.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// TimestampLayout names run artifacts, e.g. updates_20250216_0430.txt.
const TimestampLayout = "20060102_1504"

// Run accumulates the outcome of one pipeline run.
type Run struct {
	Timestamp string
	TaskID    string
	StartDate string
	EndDate   string

	updatedRegions  map[int]bool
	filteredRegions map[int]bool
	newFiles        []string
	filteredFiles   []string
	deletedFiles    []string
	regionMap       map[int]string

	logFile *os.File
}

// NewRun opens the updates log for a run starting at now.
func NewRun(logDir string, now time.Time) (*Run, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	ts := now.Format(TimestampLayout)
	path := filepath.Join(logDir, "updates_"+ts+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open updates log: %w", err)
	}

	return &Run{
		Timestamp:       ts,
		updatedRegions:  make(map[int]bool),
		filteredRegions: make(map[int]bool),
		regionMap:       make(map[int]string),
		logFile:         f,
	}, nil
}

// Log appends one line to the updates log.
func (r *Run) Log(format string, args ...any) {
	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, format+"\n", args...)
}

// SetTask records the submitted task's identity and date range.
func (r *Run) SetTask(taskID, startDate, endDate string) {
	r.TaskID = taskID
	r.StartDate = startDate
	r.EndDate = endDate
}

// AddNewFile records a downloaded file for a region.
func (r *Run) AddNewFile(regionID int, path string) {
	r.updatedRegions[regionID] = true
	r.newFiles = append(r.newFiles, path)
}

// AddFilteredFile records a produced fusion artifact for a region.
func (r *Run) AddFilteredFile(regionID int, path string) {
	r.filteredRegions[regionID] = true
	r.filteredFiles = append(r.filteredFiles, path)
}

// AddDeletedFile records a file removed by the retention sweep.
func (r *Run) AddDeletedFile(path string) {
	r.deletedFiles = append(r.deletedFiles, path)
}

// SetRegionMap records the id-to-name mapping the run operated under.
func (r *Run) SetRegionMap(m map[int]string) {
	for id, name := range m {
		r.regionMap[id] = name
	}
}

// NewFiles returns the downloaded files in recording order.
func (r *Run) NewFiles() []string {
	return append([]string(nil), r.newFiles...)
}

// Manifest is the terminal JSON summary of a run.
type Manifest struct {
	Timestamp         string         `json:"timestamp"`
	TaskID            string         `json:"task_id"`
	StartDate         string         `json:"start_date"`
	EndDate           string         `json:"end_date"`
	UpdatedRegionIDs  []int          `json:"updated_region_ids"`
	NewFiles          []string       `json:"new_files"`
	FilteredRegionIDs []int          `json:"filtered_region_ids"`
	FilteredFiles     []string       `json:"filtered_files"`
	DeletedFiles      []string       `json:"deleted_files"`
	RegionMap         map[int]string `json:"region_map"`
}

func (r *Run) manifest() Manifest {
	m := Manifest{
		Timestamp:         r.Timestamp,
		TaskID:            r.TaskID,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		UpdatedRegionIDs:  sortedIDs(r.updatedRegions),
		NewFiles:          sortedCopy(r.newFiles),
		FilteredRegionIDs: sortedIDs(r.filteredRegions),
		FilteredFiles:     sortedCopy(r.filteredFiles),
		DeletedFiles:      sortedCopy(r.deletedFiles),
		RegionMap:         r.regionMap,
	}
	return m
}

// WriteManifest writes the run manifest as run_<timestamp>.json under dir.
func (r *Run) WriteManifest(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(r.manifest(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(dir, "run_"+r.Timestamp+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize manifest: %w", err)
	}
	return path, nil
}

// Close flushes and closes the updates log.
func (r *Run) Close() error {
	if r.logFile == nil {
		return nil
	}
	err := r.logFile.Close()
	r.logFile = nil
	return err
}

func sortedIDs(set map[int]bool) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
