package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/payouts"
)

var payoutsCmd = &cobra.Command{
	Use:   "payouts",
	Short: "Request and process payouts",
}

var payoutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your payouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Payouts []models.Payout `json:"payouts"`
			Total   int64           `json:"total"`
		}
		if err := api.get(cmd.Context(), "/api/v1/payouts", &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		if len(resp.Payouts) == 0 {
			fmt.Println("No payouts yet")
			return nil
		}
		for _, p := range resp.Payouts {
			fmt.Printf("%s  %s  %-15s  %-14s  %s\n", p.ID, p.CreatedAt.Format("2006-01-02"), p.Status, p.Method,
				formatCents(p.AmountCents, p.Currency))
		}
		return nil
	},
}

var (
	requestAccount string
	requestKey     string
)

var payoutsRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Withdraw your available balance",
	Long: `Withdraw the available balance to your default payout account.
Pass --key to safely retry a request; the same key never pays twice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := requestKey
		if key == "" {
			key = uuid.NewString()
		}
		in := payouts.RequestInput{IdempotencyKey: key, AccountID: requestAccount}
		var resp struct {
			Payout models.Payout `json:"payout"`
		}
		if err := api.do(cmd.Context(), http.MethodPost, "/api/v1/payouts", in, &resp, "Idempotency-Key", key); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		fmt.Printf("✓ Payout %s of %s is %s\n", resp.Payout.ID,
			formatCents(resp.Payout.AmountCents, resp.Payout.Currency), resp.Payout.Status)
		fmt.Printf("  Idempotency key: %s\n", key)
		return nil
	},
}

var payoutsProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Send every due pending payout (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Summary payouts.ProcessSummary `json:"summary"`
		}
		if err := api.post(cmd.Context(), "/api/v1/admin/payouts/process", nil, &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		s := resp.Summary
		fmt.Printf("✓ processed=%d completed=%d manual=%d retrying=%d failed=%d\n",
			s.Processed, s.Completed, s.Manual, s.Retrying, s.Failed)
		return nil
	},
}

var confirmReference string

var payoutsConfirmCmd = &cobra.Command{
	Use:   "confirm <payout-id>",
	Short: "Mark a manual payout as sent (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Payout models.Payout `json:"payout"`
		}
		body := map[string]string{"reference": confirmReference}
		if err := api.post(cmd.Context(), "/api/v1/admin/payouts/"+url.PathEscape(args[0])+"/confirm", body, &resp); err != nil {
			return err
		}
		if output == "json" {
			return printJSON(resp)
		}
		fmt.Printf("✓ Payout %s is %s\n", resp.Payout.ID, resp.Payout.Status)
		return nil
	},
}

func init() {
	payoutsRequestCmd.Flags().StringVar(&requestAccount, "account", "", "Payout account ID (default account if empty)")
	payoutsRequestCmd.Flags().StringVar(&requestKey, "key", "", "Idempotency key (generated if empty)")
	payoutsConfirmCmd.Flags().StringVar(&confirmReference, "reference", "", "Transfer reference")
	_ = payoutsConfirmCmd.MarkFlagRequired("reference")

	payoutsCmd.AddCommand(payoutsListCmd)
	payoutsCmd.AddCommand(payoutsRequestCmd)
	payoutsCmd.AddCommand(payoutsProcessCmd)
	payoutsCmd.AddCommand(payoutsConfirmCmd)
}
