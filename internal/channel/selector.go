// Package channel decides whether an outbound message may be free text or
// must be a provider-approved template, and builds template payloads.
package channel

import (
	"time"
)

// DefaultWindow is the provider's 24 hour customer-service window minus a
// 10 minute safety margin.
const DefaultWindow = 23*time.Hour + 50*time.Minute

// Route is the payload kind the transport must carry
type Route string

const (
	RouteText     Route = "text"
	RouteTemplate Route = "template"
)

// Decision is the outcome of a channel selection
type Decision struct {
	Route         Route         `json:"route"`
	LastInboundAt int64         `json:"lastInboundAt"`
	Elapsed       time.Duration `json:"elapsed"`
	Forced        bool          `json:"forced,omitempty"`
	// ExpiresAt is when free text stops being allowed; zero when it already has.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// TemplateRequired reports whether free text is disallowed
func (d Decision) TemplateRequired() bool {
	return d.Route == RouteTemplate
}

// Select decides the route for a send at now. lastInboundAt is unix
// milliseconds; 0 means no inbound message is known and always yields a
// template.
func Select(lastInboundAt int64, now time.Time, window time.Duration) Decision {
	if window <= 0 {
		window = DefaultWindow
	}
	d := Decision{Route: RouteTemplate, LastInboundAt: lastInboundAt}
	if lastInboundAt <= 0 {
		return d
	}
	last := time.UnixMilli(lastInboundAt)
	d.Elapsed = now.Sub(last)
	if d.Elapsed > window {
		return d
	}
	d.Route = RouteText
	d.ExpiresAt = last.Add(window)
	return d
}

// Selector applies Select with a fixed window and clock
type Selector struct {
	Window time.Duration
	Now    func() time.Time
}

// NewSelector returns a selector on the wall clock
func NewSelector(window time.Duration) *Selector {
	return &Selector{Window: window, Now: time.Now}
}

// Decide selects the route for a send happening now. force routes to a
// template regardless of the window, for manual re-engagement actions.
func (s *Selector) Decide(lastInboundAt int64, force bool) Decision {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	d := Select(lastInboundAt, now(), s.Window)
	if force && d.Route == RouteText {
		d.Route = RouteTemplate
		d.Forced = true
	}
	return d
}
