package commands

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/lazindex"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newCreateLazIndexCommand() *cobra.Command {
	var (
		pointcloudURI string
		tempDir       string
		pattern       string
		workers       int
	)

	cmd := &cobra.Command{
		Use:   "createlazindex",
		Short: "Build the capture index for a point cloud source",
		Long: `Read the header of every las/laz capture under a point cloud source and
record each capture's extent, year and size in an index database. The index
is published next to the captures and lets tile runs select intersecting
captures without touching the capture files themselves.

Only the first 227 bytes of each capture are fetched, so indexing a remote
source of thousands of multi-gigabyte captures stays cheap.`,
		Example: `  bagrunner createlazindex --destination file:///data/ahn4
  bagrunner createlazindex --destination "azure://https://acct.blob.core.windows.net/ahn4?sv=..." --max_workers 16`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			source, err := storage.Resolve(pointcloudURI)
			if err != nil {
				return err
			}
			var filter *regexp.Regexp
			if pattern != "" {
				if filter, err = regexp.Compile(pattern); err != nil {
					return err
				}
			}

			workDir, err := os.MkdirTemp(tempDir, "lazindex-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(workDir)

			indexPath := filepath.Join(workDir, lazindex.FileName)
			index, err := lazindex.Open(ctx, indexPath)
			if err != nil {
				return err
			}
			if err := index.Build(ctx, source, filter, workers); err != nil {
				_ = index.Close()
				return err
			}
			count, err := index.Count(ctx)
			if err != nil {
				_ = index.Close()
				return err
			}
			if err := index.Close(); err != nil {
				return err
			}

			if err := source.Navigate(lazindex.FileName).PublishFrom(ctx, indexPath); err != nil {
				return err
			}
			log.Info().Int("captures", count).Stringer("source", source).Msg("Published capture index")
			return nil
		},
	}

	cmd.Flags().StringVar(&pointcloudURI, "destination", "", "point cloud URI to index (file:// or azure://)")
	cmd.Flags().StringVar(&tempDir, "temporary_directory", os.TempDir(), "scratch directory for building the index")
	cmd.Flags().StringVar(&pattern, "pattern", "", "capture name filter, defaults to las/laz extensions")
	cmd.Flags().IntVar(&workers, "max_workers", 8, "concurrent header fetches")
	cmd.MarkFlagRequired("destination")

	return cmd
}
