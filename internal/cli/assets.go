package cli

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/remotefilter"
)

func assetsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assets",
		Aliases: []string{"asset"},
		Short:   "Search permanent and consumable assets",
		Example: heredoc.Doc(`
			$ casfosctl assets list --type Permanent --category Furniture
			$ casfosctl assets returns --type Consumable
			$ casfosctl assets stock store --category IT
		`),
	}
	cmd.AddCommand(
		listAssetsCommand(a),
		returnsCommand(a),
		stockCommand(a),
	)
	return cmd
}

func listAssetsCommand(a *app) *cobra.Command {
	var c filter.AssetCriteria
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets matching the given criteria",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.Validate(); err != nil {
				return err
			}
			src, err := a.assetSource()
			if err != nil {
				return err
			}
			return a.writeOutcome(assetColumns, src.Search(cmd.Context(), c))
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&c.AssetType, "type", "", "asset type equals (Permanent or Consumable)")
	fs.StringVar(&c.AssetCategory, "category", "", "asset category contains")
	fs.StringVar(&c.SubCategory, "sub-category", "", "an item's sub-category contains")
	fs.StringVar(&c.ItemName, "item", "", "an item's name contains")
	fs.StringVar(&c.ItemDescription, "description", "", "an item's description contains")
	fs.StringVar(&c.Location, "location", "", "location contains")
	fs.StringVar(&c.Status, "status", "", "status equals")
	return cmd
}

func returnsCommand(a *app) *cobra.Command {
	var assetType, approved string
	cmd := &cobra.Command{
		Use:   "returns",
		Short: "List returned assets awaiting a condition decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := a.backend.ReturnedForConditionChange(cmd.Context(), assetType, approved)
			if err != nil {
				return a.writeOutcome(itemColumns, remotefilter.Failed(err))
			}
			return a.writeOutcome(itemColumns, remotefilter.FromRecords(docs))
		},
	}
	cmd.Flags().StringVar(&assetType, "type", "Permanent", "asset type (Permanent or Consumable)")
	cmd.Flags().StringVar(&approved, "approved", "", "approval state to list")
	return cmd
}

func stockCommand(a *app) *cobra.Command {
	var q backend.ItemQuery
	cmd := &cobra.Command{
		Use:       "stock <store|returned|service|disposed>",
		Short:     "List items at one stage of the inventory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"store", "returned", "service", "disposed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := backend.ParseStage(args[0])
			if err != nil {
				return err
			}
			docs, err := a.backend.Items(cmd.Context(), stage, q)
			if err != nil {
				return a.writeOutcome(itemColumns, remotefilter.Failed(err))
			}
			return a.writeOutcome(itemColumns, remotefilter.FromRecords(docs))
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&q.AssetType, "type", "", "asset type")
	fs.StringVar(&q.ItemType, "item-type", "", "item type")
	fs.StringVar(&q.AssetCategory, "category", "", "asset category")
	fs.StringVar(&q.SubCategory, "sub-category", "", "sub-category")
	fs.StringVar(&q.ItemDescription, "description", "", "item description")
	return cmd
}
