package bundle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/lakewatch/lst-pipeline/internal/appeears"
	"github.com/lakewatch/lst-pipeline/internal/ledger"
	"github.com/lakewatch/lst-pipeline/internal/product"
	"github.com/lakewatch/lst-pipeline/internal/region"
)

type fakeClient struct {
	files   []appeears.BundleFile
	content map[string][]byte
	broken  map[string]bool
}

func (f *fakeClient) ListBundle(ctx context.Context, taskID string) ([]appeears.BundleFile, error) {
	return f.files, nil
}

func (f *fakeClient) OpenBundleFile(ctx context.Context, taskID, fileID string) (io.ReadCloser, error) {
	if f.broken[fileID] {
		return nil, errors.New("connection reset")
	}
	data, ok := f.content[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newTestDownloader(t *testing.T, client Client) (*Downloader, string, *ledger.Run) {
	t.Helper()
	rawRoot := t.TempDir()

	registry, err := region.Build([]region.Row{
		{Name: "mendota", Location: "north"},
	}, rawRoot, t.TempDir())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	router, err := product.NewRouter(product.Defaults())
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	run, err := ledger.NewRun(t.TempDir(), time.Date(2025, 2, 16, 4, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	t.Cleanup(func() { run.Close() })

	return New(client, registry, router, rawRoot, run), rawRoot, run
}

func TestDownloadRoutesByRegion(t *testing.T) {
	client := &fakeClient{
		files: []appeears.BundleFile{
			{FileID: "f1", FileName: "ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif"},
			{FileID: "f2", FileName: "ECO_L2T_LSTE.002_QC_doy2025047192336_aid0001.tif"},
		},
		content: map[string][]byte{
			"f1": []byte("lst"),
			"f2": []byte("qc"),
		},
	}

	d, rawRoot, run := newTestDownloader(t, client)
	saved, err := d.Download(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("saved = %v", saved)
	}

	want := filepath.Join(rawRoot, "mendota", "north", "ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "lst" {
		t.Errorf("content = %q", data)
	}
	if got := run.NewFiles(); len(got) != 2 {
		t.Errorf("recorded files = %v", got)
	}
}

func TestDownloadSkipsUnknownRegion(t *testing.T) {
	client := &fakeClient{
		files: []appeears.BundleFile{
			{FileID: "f1", FileName: "ECO_L2T_LSTE.002_LST_doy2025047192336_aid0099.tif"},
		},
		content: map[string][]byte{"f1": []byte("lst")},
	}

	d, rawRoot, run := newTestDownloader(t, client)
	saved, err := d.Download(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 0 {
		t.Errorf("saved = %v, want none", saved)
	}
	if got := run.NewFiles(); len(got) != 0 {
		t.Errorf("recorded files = %v, want none", got)
	}

	entries, _ := os.ReadDir(filepath.Join(rawRoot, "mendota", "north"))
	if len(entries) != 0 {
		t.Errorf("unexpected files in region dir: %v", entries)
	}
}

func TestDownloadAncillaryGetsTimestamp(t *testing.T) {
	client := &fakeClient{
		files: []appeears.BundleFile{
			{FileID: "f1", FileName: "granule-list.csv"},
		},
		content: map[string][]byte{"f1": []byte("id,granule\n")},
	}

	d, rawRoot, _ := newTestDownloader(t, client)
	if _, err := d.Download(context.Background(), "task-1"); err != nil {
		t.Fatalf("Download: %v", err)
	}

	// Ancillary files land in the raw root itself, not a region directory.
	want := filepath.Join(rawRoot, "granule-list_20250216_0430.csv")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("ancillary file not saved at %s: %v", want, err)
	}
}

func TestDownloadAbsorbsPerFileFailures(t *testing.T) {
	client := &fakeClient{
		files: []appeears.BundleFile{
			{FileID: "bad", FileName: "ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif"},
			{FileID: "ok", FileName: "ECO_L2T_LSTE.002_QC_doy2025047192336_aid0001.tif"},
		},
		content: map[string][]byte{"ok": []byte("qc")},
		broken:  map[string]bool{"bad": true},
	}

	d, _, _ := newTestDownloader(t, client)
	saved, err := d.Download(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 1 || filepath.Base(saved[0]) != "ECO_L2T_LSTE.002_QC_doy2025047192336_aid0001.tif" {
		t.Errorf("saved = %v", saved)
	}
}

func TestDownloadDecompressesGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("pixels"))
	zw.Close()

	client := &fakeClient{
		files: []appeears.BundleFile{
			{FileID: "f1", FileName: "ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif.gz"},
		},
		content: map[string][]byte{"f1": buf.Bytes()},
	}

	d, rawRoot, _ := newTestDownloader(t, client)
	saved, err := d.Download(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("saved = %v", saved)
	}

	want := filepath.Join(rawRoot, "mendota", "north", "ECO_L2T_LSTE.002_LST_doy2025047192336_aid0001.tif")
	if saved[0] != want {
		t.Errorf("saved path = %s, want %s", saved[0], want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("content = %q", data)
	}
}

func TestSaveAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.tif")
	if err := saveAtomic(dest, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("saveAtomic: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.tif" {
		t.Errorf("dir entries = %v", entries)
	}
}
