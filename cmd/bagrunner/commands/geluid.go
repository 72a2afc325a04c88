package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/pipeline"
	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newGeluidCommand() *cobra.Command {
	var (
		sourceURI      string
		destinationURI string
		tempDir        string
	)

	cmd := &cobra.Command{
		Use:   "geluid",
		Short: "Build the noise modelling database",
		Long: `Flatten the reconstructed cityjson tiles into a geopackage suitable for
noise propagation modelling. Geometry is taken from the LoD 1.3 roof
surfaces, the level of detail the national noise model prescribes.`,
		Example: `  bagrunner geluid --source file:///data/out --destination file:///data/products`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			source, err := storage.Resolve(sourceURI)
			if err != nil {
				return err
			}
			destination, err := storage.Resolve(destinationURI)
			if err != nil {
				return err
			}

			builder := &pipeline.GDALHeightBuilder{Runner: roofer.ExecRunner{}}
			return builder.Build(ctx, source, destination, tempDir, true)
		},
	}

	cmd.Flags().StringVar(&sourceURI, "source", "", "URI of the reconstructed cityjson tiles")
	cmd.Flags().StringVar(&destinationURI, "destination", "", "URI prefix the database is published under")
	cmd.Flags().StringVar(&tempDir, "temporary_directory", os.TempDir(), "scratch directory for staging and merging")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("destination")

	return cmd
}
