package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/geo"
	"github.com/civicworks/portal311/internal/model"
)

var (
	boundaryName     string
	boundaryKind     string
	boundaryCats     []string
	boundaryRoads    []string
	boundaryURL      string
	boundaryMsg      string
	ruleKind         string
	ruleRedirectName string
	ruleRedirectURL  string
	ruleRedirectMsg  string
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage jurisdiction boundaries and redirect rules",
}

var boundariesAddCmd = &cobra.Command{
	Use:   "add <geojson-file>",
	Short: "Add a primary or exclusion boundary from a GeoJSON polygon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := model.BoundaryKind(boundaryKind)
		if kind != model.BoundaryPrimary && kind != model.BoundaryExclusion {
			return eris.Errorf("invalid boundary kind %q (want primary or exclusion)", boundaryKind)
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read geometry %s", args[0])
		}
		// Fail here rather than at evaluation time.
		if _, err := geo.Decode(raw); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		b := &model.Boundary{
			Name:            boundaryName,
			Kind:            kind,
			Geometry:        raw,
			CategoryFilters: boundaryCats,
			RoadNameFilters: boundaryRoads,
			RedirectURL:     boundaryURL,
			RedirectMessage: boundaryMsg,
			Active:          true,
		}
		if err := env.Store.SaveBoundary(ctx, b); err != nil {
			return err
		}

		zap.L().Info("boundary saved", zap.String("id", b.ID), zap.String("kind", string(kind)))
		cmd.Printf("boundary %s saved (%s)\n", b.ID, kind)
		return nil
	},
}

var boundariesRuleCmd = &cobra.Command{
	Use:   "rule <match-key>",
	Short: "Add a flat category or road-name redirect rule",
	Long:  "Flat rules reject matching requests regardless of location. A category rule matches the request category exactly; a road rule matches a road-name substring of the address.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := model.ExclusionRuleKind(ruleKind)
		if kind != model.RuleCategory && kind != model.RuleRoad {
			return eris.Errorf("invalid rule kind %q (want category or road)", ruleKind)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		r := &model.ExclusionRule{
			Kind:            kind,
			MatchKey:        args[0],
			RedirectName:    ruleRedirectName,
			RedirectURL:     ruleRedirectURL,
			RedirectMessage: ruleRedirectMsg,
			Active:          true,
		}
		if err := env.Store.SaveExclusionRule(ctx, r); err != nil {
			return err
		}

		cmd.Printf("rule %s saved (%s %q)\n", r.ID, kind, r.MatchKey)
		return nil
	},
}

func init() {
	boundariesAddCmd.Flags().StringVar(&boundaryName, "name", "", "boundary name (required)")
	boundariesAddCmd.Flags().StringVar(&boundaryKind, "kind", "primary", "boundary kind: primary or exclusion")
	boundariesAddCmd.Flags().StringSliceVar(&boundaryCats, "categories", nil, "category filter (exclusion boundaries)")
	boundariesAddCmd.Flags().StringSliceVar(&boundaryRoads, "roads", nil, "road-name filter (exclusion boundaries)")
	boundariesAddCmd.Flags().StringVar(&boundaryURL, "redirect-url", "", "authority URL shown on rejection")
	boundariesAddCmd.Flags().StringVar(&boundaryMsg, "redirect-message", "", "rejection message override")
	_ = boundariesAddCmd.MarkFlagRequired("name")

	boundariesRuleCmd.Flags().StringVar(&ruleKind, "kind", "category", "rule kind: category or road")
	boundariesRuleCmd.Flags().StringVar(&ruleRedirectName, "redirect-name", "", "authority name shown on rejection")
	boundariesRuleCmd.Flags().StringVar(&ruleRedirectURL, "redirect-url", "", "authority URL shown on rejection")
	boundariesRuleCmd.Flags().StringVar(&ruleRedirectMsg, "redirect-message", "", "rejection message override")

	boundariesCmd.AddCommand(boundariesAddCmd)
	boundariesCmd.AddCommand(boundariesRuleCmd)
	rootCmd.AddCommand(boundariesCmd)
}
