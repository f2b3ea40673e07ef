// Package metrics exposes ledger and channel counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"worldchains.ai/internal/ledger"
)

type Metrics struct {
	Entries      *prometheus.CounterVec
	Height       *prometheus.GaugeVec
	QueueDepth   *prometheus.GaugeVec
	Redeliveries *prometheus.CounterVec
	Residents    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worldchains_ledger_entries_total",
			Help: "Executed operations and messages by ledger, source, kind and result.",
		}, []string{"ledger", "source", "kind", "result"}),
		Height: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldchains_ledger_height",
			Help: "Current block height per ledger.",
		}, []string{"ledger"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldchains_channel_queue_depth",
			Help: "Envelopes queued for a destination ledger.",
		}, []string{"ledger"}),
		Redeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worldchains_channel_redeliveries_total",
			Help: "Envelopes handed to a destination again after a failed delivery.",
		}, []string{"ledger"}),
		Residents: f.NewGauge(prometheus.GaugeOpts{
			Name: "worldchains_player_residency_entries",
			Help: "Players with a known home ledger.",
		}),
	}
}

// WriteBlock counts an executed entry. Failed entries are labelled by
// their error code.
func (m *Metrics) WriteBlock(e ledger.BlockEntry) error {
	result := e.Outcome
	if e.Code != "" {
		result = e.Code
	}
	m.Entries.WithLabelValues(e.Ledger, string(e.Source), e.Kind, result).Inc()
	m.Height.WithLabelValues(e.Ledger).Set(float64(e.Height))
	return nil
}

func (m *Metrics) SetQueueDepth(ledgerID string, n int) {
	m.QueueDepth.WithLabelValues(ledgerID).Set(float64(n))
}

func (m *Metrics) Redelivered(ledgerID string) {
	m.Redeliveries.WithLabelValues(ledgerID).Inc()
}

func (m *Metrics) SetResidents(n int) {
	m.Residents.Set(float64(n))
}

