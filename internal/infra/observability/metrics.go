package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Entry Metrics ──────────────────────────────────────────────────────────

// EntriesPosted tracks appended ledger entries by kind.
var EntriesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "ledger",
	Name:      "entries_posted_total",
	Help:      "Total ledger entries appended, by kind.",
}, []string{"kind"})

// EarnBlocked tracks earn attempts suppressed by a cap, by binding window.
var EarnBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "ledger",
	Name:      "earn_blocked_total",
	Help:      "Total earn attempts suppressed by a cap, by binding window.",
}, []string{"window"})

// CurrencyMinted tracks currency created by conversions.
var CurrencyMinted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "ledger",
	Name:      "currency_minted_total",
	Help:      "Total aggregate currency created by conversions.",
})

// CurrencySpent tracks currency debited by spends.
var CurrencySpent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "ledger",
	Name:      "currency_spent_total",
	Help:      "Total aggregate currency debited by spends.",
})

// ─── Command Metrics ────────────────────────────────────────────────────────

// CommandErrors tracks rejected commands by command and error class.
var CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "command",
	Name:      "errors_total",
	Help:      "Total rejected ledger commands by command and error class.",
}, []string{"command", "class"})

// CommandConflicts tracks optimistic-append retries.
var CommandConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "command",
	Name:      "conflict_retries_total",
	Help:      "Total decide-then-append cycles retried after a head conflict.",
}, []string{"command"})

// ─── Store Metrics ──────────────────────────────────────────────────────────

// StoreLatency tracks ledger store call latency.
var StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "shf",
	Subsystem: "store",
	Name:      "latency_ms",
	Help:      "Ledger store call latency in milliseconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
}, []string{"op"})

// ProjectorFolds tracks how each balance fold was served.
var ProjectorFolds = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "projector",
	Name:      "fold_total",
	Help:      "Balance folds by outcome (hit = incremental, miss = full replay).",
}, []string{"outcome"})

// ─── HTTP Metrics ───────────────────────────────────────────────────────────

// HTTPRequests tracks API requests by route and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total API requests by route pattern and status code.",
}, []string{"route", "status"})

// HTTPRateLimited tracks requests rejected by the rate limiter.
var HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shf",
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Total API requests rejected by the rate limiter.",
})

// FeedSubscribers tracks open live-feed streams.
var FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "shf",
	Subsystem: "http",
	Name:      "feed_subscribers",
	Help:      "Number of open ledger feed streams.",
})
