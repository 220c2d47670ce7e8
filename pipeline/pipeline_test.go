package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rental-scraper/config"
	"rental-scraper/models"
	"rental-scraper/scraper/rentfaster"
	"rental-scraper/storage"
	"rental-scraper/targets"
	"rental-scraper/utils"
)

const detailPage = `<html><body>
<h1>Beltline 2 Bed Apartment</h1>
<div class="units-wrap"><div class="card block">850 sq ft</div></div>
</body></html>`

type pageFetcher struct {
	calls atomic.Int64
}

func (f *pageFetcher) Fetch(ctx context.Context, url string) (*rentfaster.Page, error) {
	f.calls.Add(1)
	return &rentfaster.Page{Markup: detailPage, Status: 200}, nil
}

type memorySink struct {
	mu     sync.Mutex
	writes int
	byKey  map[models.TargetKey]*models.CanonicalRecord
}

func (s *memorySink) Write(records []*models.CanonicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[models.TargetKey]*models.CanonicalRecord)
	}
	s.writes++
	for _, r := range records {
		s.byKey[r.Key()] = r
	}
	return nil
}

func (s *memorySink) Close() error { return nil }

type harness struct {
	dir     string
	cfg     *config.Config
	fetcher *pageFetcher
	sink    *memorySink
	p       *Pipeline
	records *storage.RecordStore
	capture *storage.CaptureStore
}

func newHarness(t *testing.T, src *targets.Source) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		FetchWorkers:   2,
		ExtractWorkers: 2,
		MaxMarkupBytes: 1 << 20,
		RawDir:         filepath.Join(dir, "raw"),
		RecordsDir:     filepath.Join(dir, "records"),
		StateDB:        filepath.Join(dir, "state.db"),
		DatasetPath:    filepath.Join(dir, "canonical.json"),
		ReportPath:     filepath.Join(dir, "failures.csv"),
		Publish:        true,
		Region:         models.BoundingBox{MinLat: 41, MaxLat: 84, MinLng: -141.5, MaxLng: -52},
	}

	captures, err := storage.NewCaptureStore(cfg.RawDir, cfg.MaxMarkupBytes)
	if err != nil {
		t.Fatal(err)
	}
	state, err := storage.OpenStateStore(cfg.StateDB)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })
	records, err := storage.NewRecordStore(cfg.RecordsDir)
	if err != nil {
		t.Fatal(err)
	}
	failures, err := storage.NewCSVWriter(cfg.ReportPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { failures.Close() })

	h := &harness{dir: dir, cfg: cfg, fetcher: &pageFetcher{}, sink: &memorySink{}, records: records, capture: captures}
	h.p = New(Deps{
		Config:   cfg,
		Logger:   utils.NewNopLogger(),
		Source:   src,
		Captures: captures,
		State:    state,
		Records:  records,
		Fetcher:  h.fetcher,
		Dataset:  storage.NewDatasetWriter(cfg.DatasetPath),
		Sink:     h.sink,
		Failures: failures,
	})
	return h
}

func beltlineSource() *targets.Source {
	return &targets.Source{
		Targets: []models.Target{{
			CityCode:  "calgary",
			ListingID: "693407",
			URL:       "https://www.rentfaster.ca/ab/calgary/rentals/apartment/beltline/693407",
		}},
		Feed: &targets.Feed{
			ObservedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Listings: []targets.FeedListing{{
				RefID:    "693407",
				CityCode: "calgary",
				Price:    "1500",
				Beds:     "2",
			}},
		},
	}
}

func TestRunAllMergesTiers(t *testing.T) {
	h := newHarness(t, beltlineSource())

	res, err := h.p.Run(context.Background(), StageAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Fetch.Succeeded != 1 || res.Extract.Succeeded != 1 || res.Extract.Basic != 1 {
		t.Errorf("fetch/extract/basic = %d/%d/%d; want 1/1/1",
			res.Fetch.Succeeded, res.Extract.Succeeded, res.Extract.Basic)
	}
	if len(res.Canonical) != 1 {
		t.Fatalf("got %d canonical records, want 1", len(res.Canonical))
	}

	c := res.Canonical[0]
	if c.Price == nil || *c.Price != 1500 {
		t.Errorf("price = %v; want 1500", c.Price)
	}
	if c.Beds == nil || *c.Beds != 2 {
		t.Errorf("beds = %v; want 2", c.Beds)
	}
	if c.SqFeet == nil || *c.SqFeet != 850 {
		t.Errorf("sq_feet = %v; want 850", c.SqFeet)
	}
	if c.SourceTier != models.TierDetailed || len(c.MergedFrom) != 2 {
		t.Errorf("tier = %s, merged_from = %v", c.SourceTier, c.MergedFrom)
	}
	if len(h.sink.byKey) != 1 {
		t.Errorf("sink holds %d records, want 1", len(h.sink.byKey))
	}
}

func TestRunIsResumableAndIdempotent(t *testing.T) {
	h := newHarness(t, beltlineSource())
	ctx := context.Background()

	if _, err := h.p.Run(ctx, StageAll); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(h.cfg.DatasetPath)
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.p.Run(ctx, StageAll)
	if err != nil {
		t.Fatal(err)
	}
	if n := h.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetcher called %d times over two runs; want 1", n)
	}
	if res.Fetch.Skipped != 1 {
		t.Errorf("second run skipped %d; want 1", res.Fetch.Skipped)
	}

	second, err := os.ReadFile(h.cfg.DatasetPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("dataset changed between runs:\n%s\nvs\n%s", second, first)
	}
	if h.sink.writes != 2 || len(h.sink.byKey) != 1 {
		t.Errorf("sink writes = %d, records = %d; want 2, 1", h.sink.writes, len(h.sink.byKey))
	}
}

func TestExtractReportsMalformedAndPrunes(t *testing.T) {
	h := newHarness(t, &targets.Source{})

	bad := &models.RawCapture{CityCode: "calgary", ListingID: "1", URL: "https://x/1",
		Markup: " ", FetchedAt: time.Now(), HTTPStatus: 200}
	good := &models.RawCapture{CityCode: "calgary", ListingID: "2", URL: "https://x/2",
		Markup: detailPage, FetchedAt: time.Now(), HTTPStatus: 200}
	for _, c := range []*models.RawCapture{bad, good} {
		if err := h.capture.Put(c); err != nil {
			t.Fatal(err)
		}
	}

	// a record left over from a capture that no longer exists
	stale := &models.ExtractedRecord{CityCode: "edmonton", ListingID: "9",
		SourceTier: models.TierDetailed, ExtractedAt: time.Now()}
	if err := h.records.Put(stale); err != nil {
		t.Fatal(err)
	}

	report, err := h.p.Extract(context.Background(), "run1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 || report.Pruned != 1 {
		t.Errorf("succeeded/failed/pruned = %d/%d/%d; want 1/1/1",
			report.Succeeded, report.Failed, report.Pruned)
	}
	if len(report.Failures) != 1 || report.Failures[0].Kind != models.FailureMalformedMarkup {
		t.Errorf("failures = %+v; want one malformed_markup", report.Failures)
	}

	keys, err := h.records.Keys(models.TierDetailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != (models.TargetKey{CityCode: "calgary", ListingID: "2"}) {
		t.Errorf("detailed keys = %v; want [calgary/2]", keys)
	}

	data, err := os.ReadFile(h.cfg.ReportPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("failure report is empty")
	}
}

func TestExtractDropsRecordWhenRecaptureIsMalformed(t *testing.T) {
	h := newHarness(t, &targets.Source{})
	ctx := context.Background()
	c := &models.RawCapture{CityCode: "calgary", ListingID: "2", URL: "https://x/2",
		Markup: detailPage, FetchedAt: time.Now(), HTTPStatus: 200}
	if err := h.capture.Put(c); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.Extract(ctx, "run1"); err != nil {
		t.Fatal(err)
	}

	c.Markup = " "
	if err := h.capture.Put(c); err != nil {
		t.Fatal(err)
	}
	report, err := h.p.Extract(ctx, "run2")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if report.Succeeded != 0 || report.Failed != 1 || report.Pruned != 1 {
		t.Errorf("succeeded/failed/pruned = %d/%d/%d; want 0/1/1",
			report.Succeeded, report.Failed, report.Pruned)
	}
	keys, err := h.records.Keys(models.TierDetailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("detailed keys = %v; want none", keys)
	}

	canonical, _, err := h.p.Merge(ctx, "run2")
	if err != nil {
		t.Fatal(err)
	}
	if len(canonical) != 0 {
		t.Errorf("got %d canonical records from a malformed capture, want 0", len(canonical))
	}
}

func TestExtractReportsUnreadableCaptureAndContinues(t *testing.T) {
	h := newHarness(t, &targets.Source{})
	for _, id := range []string{"1", "2"} {
		c := &models.RawCapture{CityCode: "calgary", ListingID: id, URL: "https://x/" + id,
			Markup: detailPage, FetchedAt: time.Now(), HTTPStatus: 200}
		if err := h.capture.Put(c); err != nil {
			t.Fatal(err)
		}
	}
	meta := filepath.Join(h.cfg.RawDir, "calgary", "2.json")
	if err := os.WriteFile(meta, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := h.p.Extract(context.Background(), "run1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d; want 1/1", report.Succeeded, report.Failed)
	}
	if len(report.Failures) != 1 || report.Failures[0].ListingID != "2" ||
		report.Failures[0].Kind != models.FailureStorage {
		t.Errorf("failures = %+v; want one storage failure for calgary/2", report.Failures)
	}
	keys, _ := h.records.Keys(models.TierDetailed)
	if len(keys) != 1 || keys[0].ListingID != "1" {
		t.Errorf("detailed keys = %v; want [calgary/1]", keys)
	}
}

func TestUseSourceAppliesToNextExtract(t *testing.T) {
	h := newHarness(t, beltlineSource())
	ctx := context.Background()
	if _, err := h.p.Extract(ctx, "run1"); err != nil {
		t.Fatal(err)
	}

	h.p.UseSource(&targets.Source{Feed: &targets.Feed{
		ObservedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Listings:   []targets.FeedListing{{RefID: "700001", CityCode: "calgary", Price: "900"}},
	}})
	report, err := h.p.Extract(ctx, "run2")
	if err != nil {
		t.Fatal(err)
	}
	if report.Basic != 1 || report.Pruned != 1 {
		t.Errorf("basic/pruned = %d/%d; want 1/1", report.Basic, report.Pruned)
	}
	keys, _ := h.records.Keys(models.TierBasic)
	if len(keys) != 1 || keys[0].ListingID != "700001" {
		t.Errorf("basic keys = %v; want [calgary/700001]", keys)
	}

	h.p.UseSource(nil)
	if h.p.Source == nil {
		t.Error("UseSource(nil) left a nil source")
	}
}

func TestFetchReportsStateIndex(t *testing.T) {
	h := newHarness(t, beltlineSource())
	res, err := h.p.Run(context.Background(), StageFetch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetch.Dispatched != 1 {
		t.Errorf("dispatched = %d; want 1", res.Fetch.Dispatched)
	}
	if n := res.Fetch.StateCounts["complete"]; n != 1 {
		t.Errorf("state counts = %v; want complete=1", res.Fetch.StateCounts)
	}
}

func TestExtractPrunesBasicRecordsMissingFromFeed(t *testing.T) {
	src := beltlineSource()
	h := newHarness(t, src)
	ctx := context.Background()

	if _, err := h.p.Extract(ctx, "run1"); err != nil {
		t.Fatal(err)
	}
	src.Feed.Listings = []targets.FeedListing{{RefID: "700001", CityCode: "calgary", Price: "900"}}
	report, err := h.p.Extract(ctx, "run2")
	if err != nil {
		t.Fatal(err)
	}
	if report.Pruned != 1 {
		t.Errorf("pruned = %d; want 1", report.Pruned)
	}
	keys, _ := h.records.Keys(models.TierBasic)
	if len(keys) != 1 || keys[0].ListingID != "700001" {
		t.Errorf("basic keys = %v; want [calgary/700001]", keys)
	}
}

func TestMergeWithoutPublish(t *testing.T) {
	h := newHarness(t, beltlineSource())
	h.cfg.Publish = false

	if _, err := h.p.Run(context.Background(), StageExtract); err != nil {
		t.Fatal(err)
	}
	canonical, summary, err := h.p.Merge(context.Background(), "run1")
	if err != nil {
		t.Fatal(err)
	}
	if len(canonical) != 1 || summary.Output != 1 {
		t.Errorf("canonical = %d, output = %d; want 1, 1", len(canonical), summary.Output)
	}
	if h.sink.writes != 0 {
		t.Errorf("sink written %d times with publishing off", h.sink.writes)
	}
	if _, err := os.Stat(h.cfg.DatasetPath); err != nil {
		t.Errorf("dataset not written: %v", err)
	}
}

func TestFetchNeedsFetcher(t *testing.T) {
	h := newHarness(t, beltlineSource())
	h.p.Fetcher = nil
	if _, err := h.p.Run(context.Background(), StageFetch); err == nil {
		t.Error("fetch without a fetcher should fail")
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in      string
		want    Stage
		wantErr bool
	}{
		{"", StageAll, false},
		{"all", StageAll, false},
		{"fetch", StageFetch, false},
		{"extract", StageExtract, false},
		{"merge", StageMerge, false},
		{"publish", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStage(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseStage(%q) = %q, %v; want %q, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestStageIncludes(t *testing.T) {
	if !StageAll.Includes(StageMerge) || !StageFetch.Includes(StageFetch) || StageFetch.Includes(StageMerge) {
		t.Error("Stage.Includes is wrong")
	}
}
