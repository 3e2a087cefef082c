// internal/service/ads/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pacingMultiplierGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nova",
		Subsystem: "pacing",
		Name:      "multiplier",
		Help:      "Current pacing multiplier per campaign.",
	}, []string{"campaign_id"})

	overspendStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Subsystem: "pacing",
		Name:      "overspend_stops_total",
		Help:      "Soft/hard overspend guard activations.",
	}, []string{"kind"})

	spendReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nova",
		Subsystem: "pacing",
		Name:      "spend_records_replayed_total",
		Help:      "Spend records pushed to the replay queue after write failures.",
	})

	candidatesFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Subsystem: "delivery",
		Name:      "candidates_filtered_total",
		Help:      "Candidates dropped per pipeline stage.",
	}, []string{"stage"})

	interactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Subsystem: "feedback",
		Name:      "interactions_total",
		Help:      "Interaction events by outcome.",
	}, []string{"outcome"})

	sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Subsystem: "feedback",
		Name:      "side_effect_failures_total",
		Help:      "Post-persist side effect failures by step.",
	}, []string{"step"})

	banditRewardsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Subsystem: "bandit",
		Name:      "rewards_applied_total",
		Help:      "Reward messages applied or deduplicated.",
	}, []string{"outcome"})
)
