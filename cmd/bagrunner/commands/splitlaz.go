package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/pkg/pipeline"
	"github.com/borrob/3dbag-runner/pkg/roofer"
	"github.com/borrob/3dbag-runner/pkg/storage"
)

func newSplitLazCommand() *cobra.Command {
	var (
		inputURI  string
		outputURI string
		gridSize  int
		tempDir   string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "splitlaz",
		Short: "Split laz captures into grid-sized chunks",
		Long: `Split every laz capture under the input into grid-aligned chunks with
lastile and publish the chunks under the output, named after the lower-left
coordinate of the chunk. Captures delivered as province-sized files become
chunks sized for single-tile fetches during reconstruction.`,
		Example: `  bagrunner splitlaz --input_connection file:///data/ahn4-raw --output_connection file:///data/ahn4 --grid_size 2000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			input, err := storage.Resolve(inputURI)
			if err != nil {
				return err
			}
			output, err := storage.Resolve(outputURI)
			if err != nil {
				return err
			}

			splitter := &pipeline.TileSplitter{Runner: roofer.ExecRunner{}}
			return splitter.Split(ctx, input, output, gridSize, tempDir, workers)
		},
	}

	cmd.Flags().StringVar(&inputURI, "input_connection", "", "URI of the captures to split")
	cmd.Flags().StringVar(&outputURI, "output_connection", "", "URI prefix the chunks are published under")
	cmd.Flags().IntVar(&gridSize, "grid_size", 2000, "chunk edge length in CRS units")
	cmd.Flags().StringVar(&tempDir, "temporary_directory", os.TempDir(), "scratch directory for downloading and splitting")
	cmd.Flags().IntVar(&workers, "max_workers", 4, "captures processed concurrently")
	cmd.MarkFlagRequired("input_connection")
	cmd.MarkFlagRequired("output_connection")

	return cmd
}
