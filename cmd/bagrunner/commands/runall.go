package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/config"
	"github.com/borrob/3dbag-runner/pkg/engine"
	"github.com/borrob/3dbag-runner/pkg/grid"
	"github.com/borrob/3dbag-runner/pkg/lazindex"
	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/staging"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newRunAllRooferTilesCommand() *cobra.Command {
	var opts config.RunAllOptions

	cmd := &cobra.Command{
		Use:   "runallroofertiles",
		Short: "Reconstruct every grid tile of a footprint database",
		Long: `Cut the footprint database's extent into grid tiles and reconstruct each
tile with roofer, using the first point cloud source that has coverage.

Tiles whose output already exists under the destination are skipped, so an
interrupted run can be resumed by running the same command again. The exit
code is zero only when every tile succeeded; the IDs of tiles that did not
succeed are written to stderr.`,
		Example: `  # Reconstruct all of a footprint database from two AHN versions
  bagrunner runallroofertiles \
    --footprints file:///data/bag.gpkg \
    --destination azure://https://acct.blob.core.windows.net/tiles?sv=... \
    --pointclouds file:///data/ahn4 --pointclouds_labels AHN4 \
    --pointclouds file:///data/ahn3 --pointclouds_labels AHN3 \
    --year 2023 --gridsize 2000 --max_workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := loadConfigInto(&opts); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			footprints, err := storage.Resolve(opts.Footprints)
			if err != nil {
				return err
			}
			destination, err := storage.Resolve(opts.Destination)
			if err != nil {
				return err
			}
			sources, err := resolveSources(&opts.RunOptions)
			if err != nil {
				return err
			}

			area, err := staging.NewArea(opts.TemporaryDirectory, staging.UUIDAllocator{})
			if err != nil {
				return err
			}

			// The footprint database is fetched once up front to probe its
			// extent; each tile job fetches its own copy during execution.
			probe, err := area.Acquire()
			if err != nil {
				return err
			}
			defer probe.Release()
			probePath, err := probe.PathFor("footprints", "footprints.gpkg")
			if err != nil {
				return err
			}
			if err := footprints.FetchTo(ctx, probePath); err != nil {
				return err
			}
			extent, err := lazindex.FootprintExtent(ctx, probePath)
			if err != nil {
				return err
			}

			cells, err := grid.Partition(extent, opts.GridSize)
			if err != nil {
				return err
			}
			log.Info().Stringer("extent", extent).Int("gridsize", opts.GridSize).Int("cells", len(cells)).Msg("Partitioned footprint extent")

			var jobs []engine.Job
			existing := 0
			for _, cell := range cells {
				cellExtent, err := grid.CellExtent(cell, opts.GridSize)
				if err != nil {
					return err
				}
				name := tileName(opts.Filename, cell)
				present, err := destination.Navigate(name).Exists(ctx)
				if err != nil {
					return err
				}
				if present {
					log.Debug().Str("tile", name).Msg("Output exists, skipping tile")
					existing++
					continue
				}
				cell := cell
				jobs = append(jobs, &roofer.TileJob{
					Extent:      cellExtent,
					Cell:        &cell,
					Footprints:  footprints,
					Sources:     sources,
					Destination: destination,
					OutputName:  name,
					Year:        opts.Year,
				})
			}
			if existing > 0 {
				log.Info().Int("tiles", existing).Msg("Skipping tiles with existing output")
			}

			executor := &roofer.TileExecutor{Staging: area, Runner: roofer.ExecRunner{}}
			return runBatch(ctx, "runallroofertiles", &opts.RunOptions, executor, jobs, opts.MaxWorkers)
		},
	}

	registerRunFlags(cmd, &opts.RunOptions)
	cmd.Flags().IntVar(&opts.GridSize, "gridsize", 2000, "tile edge length in CRS units")
	cmd.Flags().StringVar(&opts.Filename, "filename", "{x}_{y}.city.json", "output name template, {x} and {y} are substituted")
	cmd.Flags().IntVar(&opts.MaxWorkers, "max_workers", 0, "max concurrent tiles, 0 means one per CPU")

	return cmd
}
