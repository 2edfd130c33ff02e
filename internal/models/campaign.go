package models

import "time"

// RecipientOutcome is one row of a bulk send status table
type RecipientOutcome struct {
	To    string `json:"to"`
	Name  string `json:"name,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CampaignReport summarizes a bulk send run
type CampaignReport struct {
	ID         string             `json:"id"`
	Template   string             `json:"template"`
	Rows       []RecipientOutcome `json:"rows"`
	Sent       int                `json:"sent"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Cancelled  bool               `json:"cancelled"`
}

// Elapsed is the wall time of the run
func (r CampaignReport) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
