package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const skipAuthAnnotation = "skip-auth"

var (
	api    *apiClient
	output string
)

var rootCmd = &cobra.Command{
	Use:   "vidlayer",
	Short: "Vidlayer CLI - Manage earnings, payouts and campaigns",
	Long: `Vidlayer CLI provides command-line access to a Vidlayer server.
Check creator earnings, request and process payouts, and review ad campaigns.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		token := viper.GetString("token")
		if token == "" && cmd.Annotations[skipAuthAnnotation] == "" && cmd.Parent() != nil {
			return fmt.Errorf("VIDLAYER_TOKEN not set, run `vidlayer login` or pass --token")
		}
		api = newAPIClient(viper.GetString("api"), token, viper.GetDuration("timeout"))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("token", "", "Authentication token (defaults to VIDLAYER_TOKEN env var)")
	rootCmd.PersistentFlags().String("api", "http://localhost:8787", "API server URL")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Request timeout (default 30s)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text or json")

	viper.SetEnvPrefix("VIDLAYER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(earningsCmd)
	rootCmd.AddCommand(payoutsCmd)
	rootCmd.AddCommand(campaignsCmd)
	rootCmd.AddCommand(adminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
