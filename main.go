package main

import (
	"fmt"
	"os"

	"crmchat/server/internal/config"
	"crmchat/server/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crmchat",
		Short: "CRM chat backend",
		Long:  "Serves reconciled conversation history and routes outbound messages through the messaging relay.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load environment variables
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file (env CRMCHAT_CONFIG)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCampaignCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crmchat %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads the --config file, falling back to CRMCHAT_CONFIG.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CRMCHAT_CONFIG")
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
