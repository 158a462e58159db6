package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledger_worker"

var (
	WithdrawalMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal_intake",
			Name:      "messages_received_total",
			Help:      "Withdrawal request messages pulled from the queue",
		},
		[]string{"topic"},
	)

	WithdrawalOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal_intake",
			Name:      "outcomes_total",
			Help:      "Withdrawal intake results by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	WithdrawalProcessLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "withdrawal_intake",
			Name:      "process_duration_seconds",
			Help:      "Time from read to ack per withdrawal message, retries included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	WithdrawalsInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "withdrawal_intake",
			Name:      "inflight_jobs",
			Help:      "Withdrawal messages currently being processed (semaphore depth)",
		},
	)

	PollerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit_poller",
			Name:      "ticks_total",
			Help:      "Deposit poller ticks by coin and result",
		},
		[]string{"coin", "result"},
	)

	PollerTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deposit_poller",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one deposit poller tick",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"coin"},
	)

	DepositsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit_poller",
			Name:      "confirmed_total",
			Help:      "Deposits credited after reaching the confirmation threshold",
		},
		[]string{"coin"},
	)

	RPCFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit_poller",
			Name:      "rpc_failures_total",
			Help:      "Confirmation lookups that failed, by coin and kind",
		},
		[]string{"coin", "kind"},
	)

	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Corrupt upstream records skipped by the worker. Any increase must page.",
		},
		[]string{"coin", "kind"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Events that could not be handed to the broker after commit",
		},
		[]string{"channel"},
	)

	SchedulerSkippedTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because the previous run (here or on another replica) was still going",
		},
		[]string{"job", "holder"},
	)
)
