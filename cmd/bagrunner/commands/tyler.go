package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/pipeline"
	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newTylerCommand() *cobra.Command {
	var (
		sourceURI      string
		destinationURI string
		mode           string
		metadataPath   string
		tempDir        string
	)

	cmd := &cobra.Command{
		Use:   "tyler",
		Short: "Package reconstructed tiles into a streamable tileset",
		Long: `Run the tyler tool over the reconstructed cityjson tiles and publish the
generated 3D Tiles tree. Mode 'buildings' packages Building and BuildingPart
objects; 'terrain' packages TINRelief.`,
		Example: `  bagrunner tyler --source file:///data/out --destination file:///data/tiles3d \
    --mode buildings --metadata_city_json /data/metadata.city.json`,
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

			packager := &pipeline.TylerPackager{Runner: roofer.ExecRunner{}}
			return packager.Package(ctx, source, destination, mode, metadataPath, tempDir)
		},
	}

	cmd.Flags().StringVar(&sourceURI, "source", "", "URI of the reconstructed cityjson tiles")
	cmd.Flags().StringVar(&destinationURI, "destination", "", "URI prefix the tileset is published under")
	cmd.Flags().StringVar(&mode, "mode", "buildings", "object selection: buildings or terrain")
	cmd.Flags().StringVar(&metadataPath, "metadata_city_json", "", "path of the cityjson metadata file")
	cmd.Flags().StringVar(&tempDir, "temporary_directory", os.TempDir(), "scratch directory for staging and packaging")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("destination")
	cmd.MarkFlagRequired("metadata_city_json")

	return cmd
}
