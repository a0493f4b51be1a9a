package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/zfogg/vidlayer/internal/auth"
	"github.com/zfogg/vidlayer/internal/earnings"
	"github.com/zfogg/vidlayer/internal/models"
)

var loginCmd = &cobra.Command{
	Use:         "login <email> <password>",
	Short:       "Sign in and print a token for VIDLAYER_TOKEN",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{skipAuthAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp auth.AuthResponse
		body := map[string]string{"email": args[0], "password": args[1]}
		if err := api.post(cmd.Context(), "/api/v1/auth/login", body, &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		fmt.Printf("✓ Signed in as %s (%s)\n", resp.User.Username, resp.User.Role)
		fmt.Printf("export VIDLAYER_TOKEN=%s\n", resp.Token)
		return nil
	},
}

var earningsCmd = &cobra.Command{
	Use:   "earnings",
	Short: "View and run creator earnings",
}

var earningsBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show your withdrawable balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		var balance earnings.Balance
		if err := api.get(cmd.Context(), "/api/v1/earnings/balance", &balance); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(balance)
		}
		fmt.Printf("Available:  %s\n", formatCents(balance.AvailableCents, balance.Currency))
		fmt.Printf("This month: %s\n", formatCents(balance.OpenCents, balance.Currency))
		fmt.Printf("In payout:  %s\n", formatCents(balance.InPayoutCents, balance.Currency))
		fmt.Printf("Paid:       %s\n", formatCents(balance.PaidCents, balance.Currency))
		return nil
	},
}

var earningsEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the running month",
	RunE: func(cmd *cobra.Command, args []string) error {
		var est earnings.Estimate
		if err := api.get(cmd.Context(), "/api/v1/earnings/estimate", &est); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(est)
		}
		fmt.Printf("%s to %s\n", est.PeriodStart.Format("2006-01-02"), est.PeriodEnd.Format("2006-01-02"))
		fmt.Printf("  views:         %d\n", est.Views)
		fmt.Printf("  responses:     %d\n", est.Responses)
		fmt.Printf("  view revenue:  %s\n", formatCents(est.ViewEarningsCents, est.Currency))
		fmt.Printf("  engagement:    %s\n", formatCents(est.EngagementEarningsCents, est.Currency))
		fmt.Printf("  subscriptions: %s\n", formatCents(est.SubscriptionEarningsCents, est.Currency))
		fmt.Printf("  ads:           %s\n", formatCents(est.AdEarningsCents, est.Currency))
		fmt.Printf("  affiliates:    %s\n", formatCents(est.AffiliateEarningsCents, est.Currency))
		fmt.Printf("  total:         %s\n", formatCents(est.TotalCents, est.Currency))
		return nil
	},
}

var earningsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your monthly earnings periods",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Periods []models.EarningsPeriod `json:"periods"`
			Total   int64                   `json:"total"`
		}
		if err := api.get(cmd.Context(), "/api/v1/earnings", &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		if len(resp.Periods) == 0 {
			fmt.Println("No earnings yet")
			return nil
		}
		for _, p := range resp.Periods {
			fmt.Printf("%s  %-9s  %s\n", p.PeriodStart.Format("2006-01"), p.Status, formatCents(p.TotalCents, p.Currency))
		}
		return nil
	},
}

var (
	calculateCreator string
	calculateMonth   string
	finalizeBefore   string
)

var earningsCalculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Recalculate open periods (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"creator_id": calculateCreator, "month": calculateMonth}
		var resp struct {
			Period  *models.EarningsPeriod `json:"period"`
			Summary *earnings.RunSummary   `json:"summary"`
		}
		if err := api.post(cmd.Context(), "/api/v1/admin/earnings/calculate", body, &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		if resp.Period != nil {
			fmt.Printf("✓ %s %s: %s (%s)\n", resp.Period.CreatorID, resp.Period.PeriodStart.Format("2006-01"),
				formatCents(resp.Period.TotalCents, resp.Period.Currency), resp.Period.Status)
			return nil
		}
		printRunSummary(resp.Summary)
		return nil
	},
}

var earningsFinalizeCmd = &cobra.Command{
	Use:   "finalize [period-id]",
	Short: "Lock one period, or every period before a month (admin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			var resp struct {
				Period models.EarningsPeriod `json:"period"`
			}
			if err := api.post(cmd.Context(), "/api/v1/admin/earnings/"+url.PathEscape(args[0])+"/finalize", nil, &resp); err != nil {
				return err
			}
			if output == "json" {
				return printJSON(resp)
			}
			fmt.Printf("✓ Period %s is %s\n", resp.Period.ID, resp.Period.Status)
			return nil
		}

		path := "/api/v1/admin/earnings/finalize"
		if finalizeBefore != "" {
			path += "?" + url.Values{"before": {finalizeBefore}}.Encode()
		}
		var resp struct {
			Summary *earnings.RunSummary `json:"summary"`
		}
		if err := api.post(cmd.Context(), path, nil, &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		printRunSummary(resp.Summary)
		return nil
	},
}

func printRunSummary(s *earnings.RunSummary) {
	if s == nil {
		fmt.Println("Nothing to do")
		return
	}
	fmt.Printf("✓ creators=%d updated=%d locked=%d failed=%d\n", s.Creators, s.Updated, s.Locked, s.Failed)
}

func init() {
	earningsCalculateCmd.Flags().StringVar(&calculateCreator, "creator", "", "Only this creator ID")
	earningsCalculateCmd.Flags().StringVar(&calculateMonth, "month", "", "Month as YYYY-MM (default current)")
	earningsFinalizeCmd.Flags().StringVar(&finalizeBefore, "before", "", "Finalize periods starting before this date")

	earningsCmd.AddCommand(earningsBalanceCmd)
	earningsCmd.AddCommand(earningsEstimateCmd)
	earningsCmd.AddCommand(earningsListCmd)
	earningsCmd.AddCommand(earningsCalculateCmd)
	earningsCmd.AddCommand(earningsFinalizeCmd)
}
