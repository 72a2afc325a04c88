package commands

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/config"
	"github.com/borrob/3dbag-runner/pkg/engine"
	"github.com/borrob/3dbag-runner/pkg/grid"
	"github.com/borrob/3dbag-runner/pkg/pointcloud"
	"github.com/borrob/3dbag-runner/pkg/stores"
	"github.com/borrob/3dbag-runner/pkg/telemetry"
)

// registerRunFlags adds the flags shared by the reconstruction commands.
// Flag values act as defaults; a --config YAML file overrides them.
func registerRunFlags(cmd *cobra.Command, opts *config.RunOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.Footprints, "footprints", "", "footprint geopackage URI (file:// or azure://)")
	f.StringVar(&opts.Destination, "destination", "", "URI prefix outputs are published under")
	f.IntVar(&opts.Year, "year", 0, "reconstruction year, stamped on low-LOD sources")
	f.StringVar(&opts.TemporaryDirectory, "temporary_directory", os.TempDir(), "root of the staging area")
	f.StringSliceVar(&opts.Pointclouds, "pointclouds", nil, "point cloud URI in fallback priority order, repeatable")
	f.StringSliceVar(&opts.PointcloudLabels, "pointclouds_labels", nil, "label for the matching --pointclouds, repeatable")
	f.StringSliceVar(&opts.LowLODPointclouds, "pointclouds_low_lod", nil, "coarse fallback point cloud URI, repeatable")
	f.StringSliceVar(&opts.LowLODLabels, "pointclouds_low_lod_labels", nil, "label for the matching --pointclouds_low_lod, repeatable")
	f.DurationVar((*time.Duration)(&opts.JobTimeout), "job_timeout", 0, "bound on one tile's execution, 0 disables")
	f.StringVar(&opts.Report, "report", "", "path of the run report database")
	f.StringVar(&opts.MetricsAddr, "metrics_addr", "", "expose Prometheus metrics on this address during the run")
}

// loadConfigInto overrides opts from the --config file when one was given.
func loadConfigInto(out any) error {
	if configPath == "" {
		return nil
	}
	return config.LoadFile(configPath, out)
}

// resolveSources turns the flag lists into the ordered source list shared by
// every tile of a run.
func resolveSources(opts *config.RunOptions) ([]pointcloud.Source, error) {
	full, err := pointcloud.FromFlags(opts.Pointclouds, opts.PointcloudLabels, false)
	if err != nil {
		return nil, err
	}
	low, err := pointcloud.FromFlags(opts.LowLODPointclouds, opts.LowLODLabels, true)
	if err != nil {
		return nil, err
	}
	return pointcloud.Resolve(full, low)
}

// tileName substitutes a cell's coordinates into the output name template.
func tileName(template string, cell grid.Cell) string {
	return strings.NewReplacer(
		"{x}", strconv.Itoa(cell.X),
		"{y}", strconv.Itoa(cell.Y),
	).Replace(template)
}

// runBatch schedules the jobs, records outcomes and reports the run result.
// The returned error is non-nil unless every job succeeded, which makes the
// process exit code usable in pipeline automation.
func runBatch(ctx context.Context, command string, opts *config.RunOptions, executor engine.Executor, jobs []engine.Job, maxWorkers int) error {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	metrics := telemetry.NewMetrics()
	if opts.MetricsAddr != "" {
		metrics.Serve(opts.MetricsAddr)
	}

	scheduler, err := engine.NewScheduler(executor, engine.Options{
		MaxWorkers: maxWorkers,
		JobTimeout: time.Duration(opts.JobTimeout),
		Observer:   metrics,
	})
	if err != nil {
		return err
	}

	log.Info().Int("tiles", len(jobs)).Int("workers", maxWorkers).Str("command", command).Msg("Starting batch run")
	outcomes := scheduler.Run(ctx, jobs)
	summary := engine.Summarize(outcomes)

	if opts.Report != "" {
		if err := writeReport(ctx, opts.Report, command, outcomes, summary); err != nil {
			log.Warn().Err(err).Msg("Failed to persist run report")
		}
	}

	log.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Batch run finished")

	if summary.Failed > 0 || summary.Skipped > 0 {
		fmt.Fprintln(os.Stderr, "failed tiles:")
		for _, outcome := range outcomes {
			if outcome.Status != engine.StatusSucceeded {
				fmt.Fprintln(os.Stderr, "  "+outcome.TileID)
			}
		}
		return fmt.Errorf("%d of %d tiles did not succeed", summary.Total-summary.Succeeded, summary.Total)
	}
	return nil
}

func writeReport(ctx context.Context, path, command string, outcomes []engine.Outcome, summary engine.Summary) error {
	store, err := stores.NewReportStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := store.CreateRun(ctx, command)
	if err != nil {
		return err
	}
	for _, outcome := range outcomes {
		if err := store.RecordOutcome(ctx, runID, outcome); err != nil {
			return err
		}
	}
	return store.FinishRun(ctx, runID, summary)
}
