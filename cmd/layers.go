package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/layers"
)

var layersImportName string

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Manage GIS asset layers",
}

var layersImportCmd = &cobra.Command{
	Use:   "import <path-or-ftp-url>",
	Short: "Import an asset layer from a shapefile or GeoJSON drop",
	Long:  "Loads features from a local .shp, .geojson, or .zip file, or an ftp:// URL to one, into a new active layer. The spatial aggregator matches layer names against the critical-infrastructure keywords, so name layers accordingly (hospitals, schools, hydrants, streetlights...).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		importer := layers.NewImporter(env.Store, zap.L())
		layer, n, err := importer.Import(ctx, layers.ImportOptions{
			Name:   layersImportName,
			Source: args[0],
		})
		if err != nil {
			return err
		}

		cmd.Printf("imported layer %s (%s): %d features\n", layer.Name, layer.ID, n)
		return nil
	},
}

var layersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active asset layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		active, err := env.Store.ActiveLayers(ctx)
		if err != nil {
			return err
		}

		for _, l := range active {
			cmd.Printf("%s\t%s\t%s\n", l.ID, l.Name, l.Source)
		}
		return nil
	},
}

func init() {
	layersImportCmd.Flags().StringVar(&layersImportName, "name", "", "layer name (required)")
	_ = layersImportCmd.MarkFlagRequired("name")

	layersCmd.AddCommand(layersImportCmd)
	layersCmd.AddCommand(layersListCmd)
	rootCmd.AddCommand(layersCmd)
}
