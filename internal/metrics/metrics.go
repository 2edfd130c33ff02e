// Package metrics exposes Prometheus counters for sends, campaigns and
// live message streams.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RelaySends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_relay_sends_total",
			Help: "Messages handed to the messaging relay, by route and result.",
		},
		[]string{"route", "result"},
	)

	CampaignRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_campaign_recipients_total",
			Help: "Bulk send recipients processed, by result.",
		},
		[]string{"result"},
	)

	SubscriptionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_subscription_errors_total",
			Help: "Live message subscriptions that failed, by collection.",
		},
		[]string{"collection"},
	)

	LiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_live_streams",
			Help: "Open websocket conversation streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(RelaySends)
	prometheus.MustRegister(CampaignRecipients)
	prometheus.MustRegister(SubscriptionErrors)
	prometheus.MustRegister(LiveStreams)
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
