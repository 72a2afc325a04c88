package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/config"
	"github.com/borrob/3dbag-runner/pkg/engine"
	"github.com/borrob/3dbag-runner/pkg/grid"
	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/staging"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newRunSingleRooferTileCommand() *cobra.Command {
	var (
		opts     config.RunSingleOptions
		filename string
	)

	cmd := &cobra.Command{
		Use:   "runsingleroofertile",
		Short: "Reconstruct one explicit extent",
		Long: `Reconstruct a single tile covering the given extent. Useful for reprocessing
one failed tile from a batch run or for trying configuration changes on a
small area before committing to a full run.`,
		Example: `  bagrunner runsingleroofertile \
    --footprints file:///data/bag.gpkg \
    --destination file:///data/out \
    --pointclouds file:///data/ahn4 --pointclouds_labels AHN4 \
    --year 2023 --extent 100000 400000 102000 402000`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			extent, err := appendExtentArgs(opts.Extent, args)
			if err != nil {
				return err
			}
			opts.Extent = extent
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

			job := &roofer.TileJob{
				Extent: grid.BBox{
					MinX: opts.Extent[0],
					MinY: opts.Extent[1],
					MaxX: opts.Extent[2],
					MaxY: opts.Extent[3],
				},
				Footprints:  footprints,
				Sources:     sources,
				Destination: destination,
				OutputName:  filename,
				Year:        opts.Year,
			}

			executor := &roofer.TileExecutor{Staging: area, Runner: roofer.ExecRunner{}}
			return runBatch(ctx, "runsingleroofertile", &opts.RunOptions, executor, []engine.Job{job}, 1)
		},
	}

	registerRunFlags(cmd, &opts.RunOptions)
	cmd.Flags().Float64SliceVar(&opts.Extent, "extent", nil, "tile extent as minX minY maxX maxY")
	cmd.Flags().StringVar(&filename, "filename", "output.city.json", "output name published under the destination")

	return cmd
}

// appendExtentArgs folds bare numeric arguments into the extent. The extent
// is given as four space-separated values after --extent, so all but the
// first arrive as positional arguments.
func appendExtentArgs(extent []float64, args []string) ([]float64, error) {
	for _, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected argument %q", arg)
		}
		extent = append(extent, v)
	}
	return extent, nil
}
