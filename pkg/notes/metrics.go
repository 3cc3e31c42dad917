// Copyright 2024-2026 Aiku AI

package notes

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcomes recorded in commandsTotal.
const (
	outcomeOK      = "ok"
	outcomeDenied  = "denied"
	outcomeError   = "error"
	outcomeIgnored = "ignored"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mautrix_notes",
			Name:      "commands_total",
			Help:      "Number of handled commands by command name and outcome",
		},
		[]string{"command", "outcome"},
	)
	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mautrix_notes",
			Name:      "refresh_seconds",
			Help:      "How long a full rebuild of the room cache takes",
			Buckets:   prometheus.DefBuckets,
		},
	)
	cachedRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mautrix_notes",
			Name:      "cached_rooms",
			Help:      "Number of rooms in the current room cache",
		},
	)
)
