package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/pipeline"
	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newCreateBAGDBCommand() *cobra.Command {
	var (
		destinationURI string
		year           int
		tempDir        string
	)

	cmd := &cobra.Command{
		Use:   "createbagdb",
		Short: "Build the BAG footprint database",
		Long: `Download the nationwide BAG extract, pull the building (pand) archive out
of it and convert it into a footprint geopackage with ogr2ogr. The resulting
database is published under the destination and is the footprint input for
the reconstruction commands.

The multi-gigabyte extract download is kept in the temporary directory, so
rerunning after a conversion failure does not download it again.`,
		Example: `  bagrunner createbagdb --year 2023 --destination file:///data/footprints`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			destination, err := storage.Resolve(destinationURI)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(tempDir, 0o755); err != nil {
				return err
			}

			name := fmt.Sprintf("bag_%d.gpkg", year)
			database := filepath.Join(tempDir, name)

			builder := &pipeline.BAGFootprintBuilder{Runner: roofer.ExecRunner{}}
			if err := builder.Build(ctx, year, database, tempDir); err != nil {
				return err
			}

			if err := destination.Navigate(name).PublishFrom(ctx, database); err != nil {
				return err
			}
			log.Info().Str("database", name).Stringer("destination", destination).Msg("Published footprint database")
			return nil
		},
	}

	cmd.Flags().StringVar(&destinationURI, "destination", "", "URI prefix the database is published under")
	cmd.Flags().IntVar(&year, "year", 0, "registration year stamped into the database name")
	cmd.Flags().StringVar(&tempDir, "temporary_directory", os.TempDir(), "scratch directory for the extract and conversion")
	cmd.MarkFlagRequired("destination")
	cmd.MarkFlagRequired("year")

	return cmd
}
