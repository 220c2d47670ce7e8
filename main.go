package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"rental-scraper/config"
	"rental-scraper/pipeline"
	"rental-scraper/scraper/rentfaster"
	"rental-scraper/services"
	"rental-scraper/storage"
	"rental-scraper/targets"
	"rental-scraper/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	var arg string
	if len(os.Args) > 1 {
		arg = os.Args[1]
	}
	stage, err := pipeline.ParseStage(arg)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(2)
	}

	logger.Info("=== Rental listing pipeline starting (stage: %s) ===", stage)
	logger.Info("Config: targets %s | limit %d | fetch workers %d | extract workers %d | headless %v",
		cfg.TargetsFile, cfg.TargetLimit, cfg.FetchWorkers, cfg.ExtractWorkers, cfg.Headless)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, stage, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, stage pipeline.Stage, logger *utils.Logger) error {
	src, err := loadSource(cfg, stage, logger)
	if err != nil {
		return err
	}

	captures, err := storage.NewCaptureStore(cfg.RawDir, cfg.MaxMarkupBytes)
	if err != nil {
		return err
	}
	state, err := storage.OpenStateStore(cfg.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()

	records, err := storage.NewRecordStore(cfg.RecordsDir)
	if err != nil {
		return err
	}
	failures, err := storage.NewCSVWriter(cfg.ReportPath)
	if err != nil {
		return err
	}
	defer failures.Close()

	deps := pipeline.Deps{
		Config:   cfg,
		Logger:   logger,
		Source:   src,
		Captures: captures,
		State:    state,
		Records:  records,
		Dataset:  storage.NewDatasetWriter(cfg.DatasetPath),
		Failures: failures,
	}

	if stage.Includes(pipeline.StageFetch) {
		browser, err := rentfaster.NewBrowser(cfg, logger)
		if err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer browser.Close()
		deps.Fetcher = browser
	}

	var pg *storage.PostgresWriter
	if cfg.Publish && stage.Includes(pipeline.StageMerge) {
		pg, err = storage.NewPostgresWriter(cfg.DSN())
		if err != nil {
			logger.Error("Make sure PostgreSQL is running: docker compose up -d")
			return fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		defer pg.Close()
		deps.Sink = pg
	}

	p := pipeline.New(deps)

	if cfg.Schedule == "" {
		return runOnce(ctx, p, stage, pg, logger)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Schedule, func() {
		// pick up edits to the targets file between runs
		src, err := loadSource(cfg, stage, logger)
		if err != nil {
			logger.Error("Scheduled run skipped: %v", err)
			return
		}
		p.UseSource(src)
		if err := runOnce(ctx, p, stage, pg, logger); err != nil {
			logger.Error("Scheduled run failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid SCHEDULE %q: %w", cfg.Schedule, err)
	}

	logger.Info("Scheduled with %q; waiting for the first run (Ctrl+C to stop)", cfg.Schedule)
	c.Start()
	<-ctx.Done()
	logger.Info("Shutting down, waiting for the current run to finish...")
	<-c.Stop().Done()
	return nil
}

// loadSource reads the targets file when stage needs targets or the feed.
func loadSource(cfg *config.Config, stage pipeline.Stage, logger *utils.Logger) (*targets.Source, error) {
	if !stage.Includes(pipeline.StageFetch) && !stage.Includes(pipeline.StageExtract) {
		return nil, nil
	}
	src, err := targets.Load(cfg.TargetsFile, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	logger.Info("Loaded %d targets from %s", len(src.Targets), cfg.TargetsFile)
	return src, nil
}

// runOnce runs the pipeline and prints the coverage report. Cancellation
// is a clean stop, not a failure.
func runOnce(ctx context.Context, p *pipeline.Pipeline, stage pipeline.Stage, pg *storage.PostgresWriter, logger *utils.Logger) error {
	res, err := p.Run(ctx, stage)
	if errors.Is(err, context.Canceled) {
		logger.Warn("Run %s interrupted; progress so far is saved", res.RunID)
		return nil
	}
	if err != nil {
		return err
	}

	if res.Fetch != nil {
		logger.Info("[fetch] %d ok | %d skipped | %d soft-failed | %d hard-failed | %d not dispatched",
			res.Fetch.Succeeded, res.Fetch.Skipped, res.Fetch.SoftFailed, res.Fetch.HardFailed, res.Fetch.NotDispatched)
	}
	if res.Extract != nil {
		logger.Info("[extract] %d detailed | %d basic | %d failed | %d pruned",
			res.Extract.Succeeded, res.Extract.Basic, res.Extract.Failed, res.Extract.Pruned)
	}
	if res.Merge == nil {
		return nil
	}

	listings := res.Canonical
	if pg != nil {
		if stored, err := pg.FetchAll(); err != nil {
			logger.Warn("Failed to read listings back from PostgreSQL for insights: %v", err)
		} else {
			listings = stored
		}
	}

	insights := services.NewInsightService(logger)
	insights.Print(insights.Generate(listings))
	fmt.Printf("  Done. Run %s | dataset → %s | failures → %s\n\n", res.RunID, p.Config.DatasetPath, p.Config.ReportPath)
	return nil
}
