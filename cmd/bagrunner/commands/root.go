package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// configPath is the optional YAML options file shared by the batch commands.
var configPath string

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bagrunner",
		Short: "3DBAG runner - batch 3D building reconstruction",
		Long: `bagrunner drives the 3DBAG reconstruction pipeline: it cuts a footprint
database into grid tiles, feeds each tile to the roofer reconstruction tool
together with the best available point cloud, and publishes the resulting
cityjson to local or Azure blob storage.

Supporting commands index point clouds, split oversized laz captures, build
the BAG footprint database, package tilesets and derive height databases.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML options file, overrides flag values")

	rootCmd.AddCommand(newRunAllRooferTilesCommand())
	rootCmd.AddCommand(newRunSingleRooferTileCommand())
	rootCmd.AddCommand(newCreateLazIndexCommand())
	rootCmd.AddCommand(newCreateBAGDBCommand())
	rootCmd.AddCommand(newSplitLazCommand())
	rootCmd.AddCommand(newTylerCommand())
	rootCmd.AddCommand(newGeluidCommand())
	rootCmd.AddCommand(newHoogteCommand())

	return rootCmd
}
