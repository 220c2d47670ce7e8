// Package pipeline wires the fetch, extract and merge stages over the
// on-disk stores. Every stage reads only from stores, so any stage can be
// rerun on its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/xid"

	"rental-scraper/config"
	"rental-scraper/models"
	"rental-scraper/scraper/rentfaster"
	"rental-scraper/services"
	"rental-scraper/storage"
	"rental-scraper/targets"
	"rental-scraper/utils"
)

// Stage selects which part of the pipeline Run executes.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageMerge   Stage = "merge"
	StageAll     Stage = "all"
)

// ParseStage accepts a stage name; empty means all.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case "":
		return StageAll, nil
	case StageFetch, StageExtract, StageMerge, StageAll:
		return Stage(s), nil
	}
	return "", fmt.Errorf("pipeline: unknown stage %q (want fetch, extract, merge or all)", s)
}

// Includes reports whether running s runs other.
func (s Stage) Includes(other Stage) bool {
	return s == StageAll || s == other
}

// Deps are the explicitly constructed collaborators of a Pipeline.
// Fetcher is only needed for the fetch stage; Sink may be nil.
type Deps struct {
	Config   *config.Config
	Logger   *utils.Logger
	Source   *targets.Source
	Captures *storage.CaptureStore
	State    storage.FetchState
	Records  *storage.RecordStore
	Fetcher  rentfaster.Fetcher
	Dataset  storage.CanonicalWriter
	Sink     storage.CanonicalWriter
	Failures storage.FailureWriter
}

type Pipeline struct {
	Deps
	extractor *services.Extractor
	feed      *services.FeedExtractor
	merger    *services.Merger
}

// Result collects the reports of the stages that ran.
type Result struct {
	RunID     string
	Fetch     *models.FetchReport
	Extract   *models.ExtractReport
	Merge     *models.MergeSummary
	Canonical []*models.CanonicalRecord
}

func New(d Deps) *Pipeline {
	if d.Source == nil {
		d.Source = &targets.Source{}
	}
	return &Pipeline{
		Deps:      d,
		extractor: services.NewExtractor(d.Config.Region, d.Config.MaxMarkupBytes, d.Logger),
		feed:      services.NewFeedExtractor(d.Config.Region, d.Logger),
		merger:    services.NewMerger(d.Logger),
	}
}

// UseSource replaces the targets and feed used by later runs.
func (p *Pipeline) UseSource(src *targets.Source) {
	if src == nil {
		src = &targets.Source{}
	}
	p.Source = src
}

// Run executes stage under a fresh run id. Per-item failures are reported,
// not returned; the error is for storage failures and cancellation.
func (p *Pipeline) Run(ctx context.Context, stage Stage) (*Result, error) {
	res := &Result{RunID: xid.New().String()}
	p.Logger.Info("[pipeline] Run %s: stage %s", res.RunID, stage)

	if stage.Includes(StageFetch) {
		report, err := p.Fetch(ctx, res.RunID)
		res.Fetch = report
		if err != nil {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	if stage.Includes(StageExtract) {
		report, err := p.Extract(ctx, res.RunID)
		res.Extract = report
		if err != nil {
			return res, err
		}
	}

	if stage.Includes(StageMerge) {
		canonical, summary, err := p.Merge(ctx, res.RunID)
		res.Canonical, res.Merge = canonical, summary
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// Fetch captures every configured target that is not already complete.
func (p *Pipeline) Fetch(ctx context.Context, runID string) (*models.FetchReport, error) {
	if p.Fetcher == nil {
		return nil, errors.New("pipeline: fetch stage needs a fetcher")
	}
	cfg := p.Config
	list := targets.Limit(p.Source.Targets, cfg.TargetLimit)

	retry := &utils.RetryPolicy{
		MaxAttempts: cfg.MaxRetries + 1,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      0.25,
		Logger:      p.Logger,
	}
	sched := rentfaster.NewScheduler(p.Fetcher, p.State, p.Captures, rentfaster.Options{
		RunID:            runID,
		Workers:          cfg.FetchWorkers,
		MinDelay:         cfg.MinDelay,
		MaxDelay:         cfg.MaxDelay,
		RequestTimeout:   cfg.RequestTimeout,
		ProgressInterval: cfg.ProgressInterval,
		ForceRefetch:     cfg.ForceRefetch,
		Retry:            retry,
	}, p.Logger)

	report, err := sched.Run(ctx, list)
	if report != nil {
		counts, cerr := p.State.Counts(context.WithoutCancel(ctx))
		if cerr != nil {
			p.Logger.Warn("[fetch] Could not read state counts: %v", cerr)
		} else {
			report.StateCounts = make(map[string]int, len(counts))
			for status, n := range counts {
				report.StateCounts[string(status)] = n
			}
			p.Logger.Info("[fetch] State index: %v", report.StateCounts)
		}
		if werr := p.writeFailures(runID, report.Failures); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return report, fmt.Errorf("pipeline: fetch: %w", err)
	}
	return report, nil
}

// Extract turns every stored capture into a detailed record and every feed
// entry into a basic record. Records are written as they are produced.
func (p *Pipeline) Extract(ctx context.Context, runID string) (*models.ExtractReport, error) {
	keys, err := p.Captures.List()
	if err != nil {
		return nil, fmt.Errorf("pipeline: extract: %w", err)
	}

	report := &models.ExtractReport{
		RunID:       runID,
		Total:       len(keys),
		FieldIssues: make(map[string]int),
	}
	pool := utils.NewWorkerPool(p.Config.ExtractWorkers, 0)
	p.Logger.Info("[extract] Run %s: %d captures with %d workers", runID, len(keys), pool.Size())

	// extracted holds only keys whose current capture produced a record;
	// records for every other key are pruned below.
	var (
		mu        sync.Mutex
		fatal     error
		extracted = utils.NewKeySet[models.TargetKey]()
	)

	for _, k := range keys {
		k := k
		if ctx.Err() != nil {
			break
		}
		pool.Submit(func() {
			issues, itemErr, err := p.extractOne(k)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if fatal == nil {
					fatal = err
				}
			case itemErr != nil:
				p.Logger.Warn("[extract] %v", itemErr)
				report.Failed++
				report.Failures = append(report.Failures, itemFailure(k, itemErr))
			default:
				extracted.Add(k)
				report.Succeeded++
				for _, is := range issues {
					report.FieldIssues[is.Field]++
				}
			}
		})
	}
	pool.Wait()

	if fatal != nil {
		return report, fmt.Errorf("pipeline: extract: %w", fatal)
	}
	if err := ctx.Err(); err != nil {
		p.Logger.Warn("[extract] Interrupted after %d records", report.Succeeded)
		return report, err
	}

	if err := p.prune(models.TierDetailed, extracted, report); err != nil {
		return report, err
	}
	if p.Source.Feed != nil {
		if err := p.extractFeed(report); err != nil {
			return report, err
		}
	}

	sortFailures(report.Failures)
	if err := p.writeFailures(runID, report.Failures); err != nil {
		return report, err
	}
	p.Logger.Info("[extract] Run %s complete: %d detailed, %d basic, %d failed, %d pruned",
		runID, report.Succeeded, report.Basic, report.Failed, report.Pruned)
	return report, nil
}

// extractOne returns a per-item error for a capture that cannot be read or
// parsed, and err only when the record store fails.
func (p *Pipeline) extractOne(k models.TargetKey) (issues []*models.FieldValidation, itemErr, err error) {
	c, err := p.Captures.Get(k)
	if errors.Is(err, storage.ErrMarkupTooLarge) {
		return nil, &models.MalformedMarkup{Key: k, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err, nil
	}
	rec, issues, err := p.extractor.Extract(c)
	if err != nil {
		return nil, err, nil
	}
	if err := p.Records.Put(rec); err != nil {
		return nil, nil, err
	}
	return issues, nil, nil
}

func itemFailure(k models.TargetKey, err error) models.Failure {
	f := models.Failure{Stage: "extract", CityCode: k.CityCode, ListingID: k.ListingID,
		Kind: models.FailureStorage, Detail: err.Error()}
	var mm *models.MalformedMarkup
	if errors.As(err, &mm) {
		f.Kind, f.Detail = models.FailureMalformedMarkup, mm.Reason
	}
	return f
}

// extractFeed rewrites the basic tier from the feed. Unkeyed records are
// cleared first since their file names are content hashes.
func (p *Pipeline) extractFeed(report *models.ExtractReport) error {
	if err := p.Records.ClearUnkeyed(models.TierBasic); err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}

	records, issues := p.feed.ExtractAll(p.Source.Feed)
	for field, n := range issues {
		report.FieldIssues[field] += n
	}

	seen := utils.NewKeySet[models.TargetKey]()
	for _, r := range records {
		k := r.Key()
		if reason := feedRecordProblem(r); reason != "" {
			report.Failed++
			report.Failures = append(report.Failures, models.Failure{Stage: "extract", CityCode: k.CityCode,
				ListingID: k.ListingID, Kind: models.FailureSchemaViolation, Detail: reason})
			continue
		}
		if k.ListingID != "" && !seen.Add(k) {
			continue
		}
		if err := p.Records.Put(r); err != nil {
			return fmt.Errorf("pipeline: extract: %w", err)
		}
		report.Basic++
	}
	return p.prune(models.TierBasic, seen, report)
}

func feedRecordProblem(r *models.ExtractedRecord) string {
	if r.CityCode == "" {
		return "feed entry has no city"
	}
	k := r.Key()
	if k.ListingID == "" {
		k.ListingID = "_"
	}
	if err := storage.ValidateKey(k); err != nil {
		return err.Error()
	}
	return ""
}

// prune deletes stored records of tier whose key is no longer in keep.
func (p *Pipeline) prune(tier models.SourceTier, keep *utils.KeySet[models.TargetKey], report *models.ExtractReport) error {
	stored, err := p.Records.Keys(tier)
	if err != nil {
		return fmt.Errorf("pipeline: prune: %w", err)
	}
	for _, k := range stored {
		if keep.Contains(k) {
			continue
		}
		if err := p.Records.Delete(tier, k); err != nil {
			return fmt.Errorf("pipeline: prune: %w", err)
		}
		p.Logger.Debug("[extract] Pruned %s record %s", tier, k)
		report.Pruned++
	}
	return nil
}

// Merge rebuilds the canonical dataset from every stored record and, when
// publishing is on, upserts it into the sink.
func (p *Pipeline) Merge(ctx context.Context, runID string) ([]*models.CanonicalRecord, *models.MergeSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	records, err := p.Records.All()
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: merge: %w", err)
	}

	canonical, summary := p.merger.Merge(records)
	summary.RunID = runID

	if err := p.Dataset.Write(canonical); err != nil {
		return canonical, summary, fmt.Errorf("pipeline: merge: %w", err)
	}
	p.Logger.Info("[merge] Wrote %d canonical listings", len(canonical))

	if p.Config.Publish && p.Sink != nil {
		if err := p.Sink.Write(canonical); err != nil {
			return canonical, summary, fmt.Errorf("pipeline: publish: %w", err)
		}
		p.Logger.Info("[sink] Published %d listings", len(canonical))
	}

	if err := p.writeFailures(runID, summary.Exclusions); err != nil {
		return canonical, summary, err
	}
	return canonical, summary, nil
}

func (p *Pipeline) writeFailures(runID string, failures []models.Failure) error {
	if p.Failures == nil || len(failures) == 0 {
		return nil
	}
	if err := p.Failures.WriteFailures(runID, failures); err != nil {
		return fmt.Errorf("pipeline: failure report: %w", err)
	}
	return nil
}

func sortFailures(fs []models.Failure) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].CityCode != fs[j].CityCode {
			return fs[i].CityCode < fs[j].CityCode
		}
		if fs[i].ListingID != fs[j].ListingID {
			return fs[i].ListingID < fs[j].ListingID
		}
		return fs[i].Detail < fs[j].Detail
	})
}
