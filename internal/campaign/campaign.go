// Package campaign sends a template to a list of contacts one at a time,
// pausing between sends to stay under provider rate limits.
package campaign

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"crmchat/server/internal/channel"
	"crmchat/server/internal/metrics"
	"crmchat/server/internal/models"
	"crmchat/server/internal/relay"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DefaultDelay = 800 * time.Millisecond

// Sender delivers one request to the messaging relay
type Sender interface {
	Send(ctx context.Context, token string, req models.SendRequest) (models.SendResponse, error)
}

// Runner executes bulk sends
type Runner struct {
	Sender  Sender
	Builder *channel.Builder
	Delay   time.Duration
	Log     *zap.Logger
	// Now and Sleep are replaceable in tests
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Request describes one bulk send
type Request struct {
	Recipients  []models.Contact
	SellerEmail string
	Token       string
}

// Run sends the template to every recipient in order. A failed recipient
// is recorded and the batch moves on. Cancelling ctx stops before the next
// send and marks the rest as skipped.
func (r *Runner) Run(ctx context.Context, req Request) models.CampaignReport {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	delay := r.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	report := models.CampaignReport{
		ID:        uuid.NewString(),
		Rows:      make([]models.RecipientOutcome, 0, len(req.Recipients)),
		StartedAt: now(),
	}
	if r.Builder != nil {
		report.Template = r.Builder.Template.Name
	}
	log = log.With(zap.String("campaign", report.ID))
	log.Info("Campaign started", zap.String("template", report.Template), zap.Int("recipients", len(req.Recipients)))

	sent := 0
	for i, contact := range req.Recipients {
		row := models.RecipientOutcome{To: NormalizePhone(contact.Phone), Name: contact.Name}

		if !report.Cancelled && row.To != "" && sent > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				report.Cancelled = true
			}
		}
		if !report.Cancelled && ctx.Err() != nil {
			report.Cancelled = true
		}

		switch {
		case report.Cancelled:
			row.Error = "cancelled"
			report.Skipped++
		case row.To == "":
			row.Error = "missing phone"
			report.Skipped++
		default:
			err := r.sendOne(ctx, req, contact.Name, row.To)
			sent++
			metrics.CampaignRecipients.WithLabelValues(metrics.Result(err)).Inc()
			if err != nil {
				row.Error = err.Error()
				report.Failed++
				log.Warn("Campaign recipient failed", zap.Int("row", i), zap.String("to", row.To), zap.Error(err))
			} else {
				row.OK = true
				report.Sent++
			}
		}
		report.Rows = append(report.Rows, row)
	}

	report.FinishedAt = now()
	log.Info("Campaign finished",
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("elapsed", report.Elapsed()))
	return report
}

func (r *Runner) sendOne(ctx context.Context, req Request, name, to string) error {
	if r.Builder == nil {
		return fmt.Errorf("campaign: no template configured")
	}
	tpl, seller := r.Builder.Build(name, req.SellerEmail)
	resp, err := r.Sender.Send(ctx, req.Token, models.SendRequest{To: to, Template: tpl, SellerName: seller})
	if err != nil {
		return err
	}
	if failed := relay.FailedRecipients(resp); len(failed) > 0 {
		return fmt.Errorf("campaign: %s: %s", to, failed[0].Error)
	}
	return nil
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NormalizePhone keeps digits only, so "+54 9 (11) 0000-0000" becomes
// "5491100000000".
func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// File is the YAML layout of a recipients file
type File struct {
	Recipients []models.Contact `yaml:"recipients"`
}

// LoadRecipients reads a YAML recipients file
func LoadRecipients(path string) ([]models.Contact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("campaign: read %s: %w", path, err)
	}
	return ParseRecipients(data)
}

// ParseRecipients accepts either a bare list or a {recipients: [...]} document
func ParseRecipients(data []byte) ([]models.Contact, error) {
	var list []models.Contact
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("campaign: parse recipients: %w", err)
	}
	return f.Recipients, nil
}
