package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"crmchat/server/internal/campaign"
	"crmchat/server/internal/models"
	"crmchat/server/internal/relay"
	"crmchat/server/internal/utils"

	"github.com/spf13/cobra"
)

func newCampaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Bulk template sends",
	}
	cmd.AddCommand(newCampaignSendCmd())
	return cmd
}

func newCampaignSendCmd() *cobra.Command {
	var (
		file  string
		as    string
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the configured template to every recipient in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			if as == "" {
				return fmt.Errorf("--as is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Relay.URL == "" {
				return fmt.Errorf("relay.url (or RELAY_URL) is required")
			}
			if delay > 0 {
				cfg.Campaign.Delay = delay
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			recipients, err := campaign.LoadRecipients(file)
			if err != nil {
				return err
			}

			// The relay authenticates the operator like any agent session.
			token, err := utils.GenerateToken([]byte(cfg.Auth.JWTSecret), models.Identity{UID: "cli:" + as, Email: as}, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := &campaign.Runner{
				Sender:  relay.New(cfg.Relay.URL, cfg.Relay.Timeout, log.Named("relay")),
				Builder: cfg.TemplateBuilder(),
				Delay:   cfg.Campaign.Delay,
				Log:     log.Named("campaign"),
			}
			report := runner.Run(ctx, campaign.Request{Recipients: recipients, SellerEmail: as, Token: token})
			printReport(cmd, report)

			if report.Failed > 0 || report.Cancelled {
				return fmt.Errorf("campaign %s: %d failed, %d skipped", report.ID, report.Failed, report.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML recipients file (required)")
	cmd.Flags().StringVar(&as, "as", "", "agent email the template is signed with (required)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between sends, overrides campaign.delay (e.g. 500ms)")
	return cmd
}

func printReport(cmd *cobra.Command, report models.CampaignReport) {
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TO\tNAME\tSTATUS\tERROR")
	for _, row := range report.Rows {
		status := "ok"
		if !row.OK {
			status = "fail"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.To, row.Name, status, row.Error)
	}
	w.Flush()
	fmt.Fprintf(out, "\ncampaign %s: %d sent, %d failed, %d skipped in %s\n",
		report.ID, report.Sent, report.Failed, report.Skipped, report.Elapsed().Round(time.Millisecond))
}
