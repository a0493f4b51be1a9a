package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/zfogg/vidlayer/internal/ads"
	"github.com/zfogg/vidlayer/internal/models"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Review your ad campaigns",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Campaigns []models.AdCampaign `json:"campaigns"`
			Total     int64               `json:"total"`
		}
		if err := api.get(cmd.Context(), "/api/v1/campaigns", &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		for _, c := range resp.Campaigns {
			fmt.Printf("%s  %-9s  %-8s  %-30s  spent %s of %s\n", c.ID, c.Status, c.Format, c.Name,
				formatCents(c.SpentCents(), "usd"), formatCents(c.BudgetCents, "usd"))
		}
		return nil
	},
}

var (
	perfFrom string
	perfTo   string
)

var campaignsPerformanceCmd = &cobra.Command{
	Use:   "performance <campaign-id>",
	Short: "Show impressions, clicks and spend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if perfFrom != "" {
			q.Set("from", perfFrom)
		}
		if perfTo != "" {
			q.Set("to", perfTo)
		}
		path := "/api/v1/campaigns/" + url.PathEscape(args[0]) + "/performance"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var perf ads.Performance
		if err := api.get(cmd.Context(), path, &perf); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(perf)
		}
		fmt.Printf("%s to %s\n", perf.From.Format("2006-01-02"), perf.To.Format("2006-01-02"))
		fmt.Printf("  impressions: %d\n", perf.Impressions)
		fmt.Printf("  clicks:      %d (CTR %.2f%%)\n", perf.Clicks, perf.CTR*100)
		fmt.Printf("  spend:       %s\n", formatCents(perf.SpendCents, "usd"))
		fmt.Printf("  eCPM:        %.2f¢  CPC: %.2f¢\n", perf.ECPMCents, perf.CPCCents)
		fmt.Printf("  remaining:   %s\n", formatCents(perf.RemainingBudgetCents, "usd"))
		return nil
	},
}

func init() {
	campaignsPerformanceCmd.Flags().StringVar(&perfFrom, "from", "", "Start date (YYYY-MM-DD or RFC3339)")
	campaignsPerformanceCmd.Flags().StringVar(&perfTo, "to", "", "End date, exclusive")

	campaignsCmd.AddCommand(campaignsListCmd)
	campaignsCmd.AddCommand(campaignsPerformanceCmd)
}
