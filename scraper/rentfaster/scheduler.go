// Package rentfaster fetches listing pages from rentfaster.ca into the raw
// capture store, resuming from the fetch state index.
package rentfaster

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"rental-scraper/models"
	"rental-scraper/storage"
	"rental-scraper/utils"
)

const stage = "fetch"

// Options controls one scheduler run.
type Options struct {
	RunID            string
	Workers          int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	RequestTimeout   time.Duration
	ProgressInterval time.Duration
	ForceRefetch     bool
	Retry            *utils.RetryPolicy
}

// Scheduler runs a bounded set of fetch workers over a target list.
// Targets are partitioned by key, so a key is only ever handled by one
// worker and the stores need no cross-worker locking.
type Scheduler struct {
	fetcher  Fetcher
	state    storage.FetchState
	captures storage.CaptureWriter
	opts     Options
	logger   *utils.Logger

	// now is replaced in tests.
	now func() time.Time

	total, dispatched, succeeded, skipped atomic.Int64
	softFailed, hardFailed, notDispatched atomic.Int64

	mu       sync.Mutex
	failures []models.Failure
}

// NewScheduler wires a scheduler. A nil opts.Retry means one attempt per
// target.
func NewScheduler(f Fetcher, state storage.FetchState, captures storage.CaptureWriter, opts Options, logger *utils.Logger) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = &utils.RetryPolicy{MaxAttempts: 1}
	}
	if opts.Retry.Classify == nil {
		opts.Retry.Classify = models.IsRetryable
	}
	return &Scheduler{
		fetcher:  f,
		state:    state,
		captures: captures,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Run fetches every target at most once. Per-target failures are
// collected in the report; only state or capture storage errors abort the
// run. Cancelling ctx stops dispatch but lets in-flight requests finish.
func (s *Scheduler) Run(ctx context.Context, targets []models.Target) (*models.FetchReport, error) {
	runID := s.opts.RunID
	if runID == "" {
		runID = xid.New().String()
	}
	s.reset()
	s.total.Store(int64(len(targets)))

	shards := s.partition(ctx, targets)
	s.logger.Info("[fetch] Run %s: %d targets across %d workers", runID, len(targets), len(shards))

	done := make(chan struct{})
	var progress sync.WaitGroup
	if s.opts.ProgressInterval > 0 {
		progress.Add(1)
		go func() {
			defer progress.Done()
			s.reportProgress(done)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		i, shard := i, shard
		if len(shard) == 0 {
			continue
		}
		g.Go(func() error {
			return s.worker(gctx, i, shard)
		})
	}
	err := g.Wait()
	close(done)
	progress.Wait()

	report := s.report(runID)
	if err != nil {
		return report, err
	}
	s.logger.Info("[fetch] Run %s complete: %d ok, %d skipped, %d soft-failed, %d hard-failed, %d not dispatched",
		runID, report.Succeeded, report.Skipped, report.SoftFailed, report.HardFailed, report.NotDispatched)
	return report, nil
}

// partition validates and dedupes targets, then assigns each remaining
// key to a worker by hash.
func (s *Scheduler) partition(ctx context.Context, targets []models.Target) [][]models.Target {
	shards := make([][]models.Target, s.opts.Workers)
	seen := utils.NewKeySet[models.TargetKey]()

	for _, t := range targets {
		if err := validateTarget(t); err != nil {
			s.hardFailed.Add(1)
			s.addFailure(t.Key(), err, 0)
			if storage.ValidateKey(t.Key()) == nil {
				if merr := s.state.MarkFailed(context.WithoutCancel(ctx), t.Key(), true, 0, 0, err.Error()); merr != nil {
					s.logger.Warn("[fetch] Could not record invalid target %s: %v", t.Key(), merr)
				}
			}
			continue
		}
		if !seen.Add(t.Key()) {
			s.logger.Debug("[fetch] Duplicate target %s ignored", t.Key())
			s.skipped.Add(1)
			continue
		}
		i := shardFor(t.Key(), s.opts.Workers)
		shards[i] = append(shards[i], t)
	}
	return shards
}

func shardFor(k models.TargetKey, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return int(h.Sum32() % uint32(n))
}

func validateTarget(t models.Target) error {
	if err := storage.ValidateKey(t.Key()); err != nil {
		return &models.InvalidTarget{Key: t.Key(), Reason: err.Error()}
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &models.InvalidTarget{Key: t.Key(), Reason: fmt.Sprintf("url %q is not an absolute http(s) URL", t.URL)}
	}
	return nil
}

func (s *Scheduler) worker(ctx context.Context, id int, shard []models.Target) error {
	delay := utils.NewDelayRange(s.opts.MinDelay, s.opts.MaxDelay, time.Now().UnixNano()+int64(id))
	fetched := 0

	for i, t := range shard {
		if ctx.Err() != nil {
			s.notDispatched.Add(int64(len(shard) - i))
			return nil
		}

		skip, err := s.shouldSkip(ctx, t.Key())
		if err != nil {
			return err
		}
		if skip {
			s.skipped.Add(1)
			continue
		}

		if fetched > 0 {
			if err := utils.SleepContext(ctx, delay.Next()); err != nil {
				s.notDispatched.Add(int64(len(shard) - i))
				return nil
			}
		}
		fetched++

		if err := s.fetchOne(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// shouldSkip consults the state index, then the capture store. A capture
// found on disk without a state row is adopted as complete.
func (s *Scheduler) shouldSkip(ctx context.Context, k models.TargetKey) (bool, error) {
	if s.opts.ForceRefetch {
		return false, nil
	}
	status, err := s.state.Status(context.WithoutCancel(ctx), k)
	if err != nil {
		return false, err
	}
	switch status {
	case storage.StatusComplete, storage.StatusFailedPermanent:
		return true, nil
	}
	if s.captures.Exists(k) {
		if err := s.state.MarkComplete(context.WithoutCancel(ctx), k, 0, 0); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *Scheduler) fetchOne(ctx context.Context, t models.Target) error {
	k := t.Key()
	s.dispatched.Add(1)

	var page *Page
	attempts, err := s.opts.Retry.Do(ctx, "fetch "+k.String(), func(attempt int) error {
		// In-flight requests outlive cancellation but not their own deadline.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RequestTimeout)
		defer cancel()

		p, ferr := s.fetcher.Fetch(reqCtx, t.URL)
		if ferr != nil && isTimeout(ferr) {
			ferr = &models.NetworkFailure{URL: t.URL, Retryable: true, Err: ferr}
		}
		page = p
		return Classify(t.URL, p, ferr)
	})

	// State and capture writes must land even when the run is being cancelled.
	wctx := context.WithoutCancel(ctx)

	if err != nil {
		permanent := !models.IsRetryable(err)
		status := 0
		var nf *models.NetworkFailure
		if errors.As(err, &nf) {
			status = nf.Status
		}
		if merr := s.state.MarkFailed(wctx, k, permanent, attempts, status, err.Error()); merr != nil {
			return merr
		}
		if permanent {
			s.hardFailed.Add(1)
		} else {
			s.softFailed.Add(1)
		}
		s.addFailure(k, err, attempts)
		s.logger.Warn("[fetch] %s failed after %d attempt(s): %v", k, attempts, err)
		return nil
	}

	capture := &models.RawCapture{
		CityCode:     t.CityCode,
		ListingID:    t.ListingID,
		URL:          t.URL,
		Markup:       page.Markup,
		FetchedAt:    s.now().UTC(),
		HTTPStatus:   page.Status,
		AttemptCount: attempts,
	}
	if err := s.captures.Put(capture); err != nil {
		return err
	}
	if err := s.state.MarkComplete(wctx, k, page.Status, attempts); err != nil {
		return err
	}
	s.succeeded.Add(1)
	s.logger.Debug("[fetch] %s captured (%d bytes, status %d, attempt %d)", k, len(page.Markup), page.Status, attempts)
	return nil
}

func (s *Scheduler) reset() {
	for _, c := range []*atomic.Int64{
		&s.total, &s.dispatched, &s.succeeded, &s.skipped,
		&s.softFailed, &s.hardFailed, &s.notDispatched,
	} {
		c.Store(0)
	}
	s.mu.Lock()
	s.failures = nil
	s.mu.Unlock()
}

func (s *Scheduler) addFailure(k models.TargetKey, err error, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, models.Failure{
		Stage:     stage,
		CityCode:  k.CityCode,
		ListingID: k.ListingID,
		Kind:      models.KindOf(err),
		Attempts:  attempts,
		Detail:    err.Error(),
	})
}

func (s *Scheduler) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			finished := s.succeeded.Load() + s.skipped.Load() + s.softFailed.Load() + s.hardFailed.Load()
			s.logger.Info("[fetch] Progress: %d/%d (dispatched=%d ok=%d skipped=%d soft=%d hard=%d)",
				finished, s.total.Load(), s.dispatched.Load(), s.succeeded.Load(), s.skipped.Load(),
				s.softFailed.Load(), s.hardFailed.Load())
		}
	}
}

func (s *Scheduler) report(runID string) *models.FetchReport {
	s.mu.Lock()
	failures := append([]models.Failure(nil), s.failures...)
	s.mu.Unlock()

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].CityCode != failures[j].CityCode {
			return failures[i].CityCode < failures[j].CityCode
		}
		return failures[i].ListingID < failures[j].ListingID
	})

	return &models.FetchReport{
		RunID:         runID,
		Total:         int(s.total.Load()),
		Skipped:       int(s.skipped.Load()),
		Succeeded:     int(s.succeeded.Load()),
		SoftFailed:    int(s.softFailed.Load()),
		HardFailed:    int(s.hardFailed.Load()),
		Dispatched:    int(s.dispatched.Load()),
		NotDispatched: int(s.notDispatched.Load()),
		Failures:      failures,
	}
}
