package observability

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// safe everywhere; components skip recording when unset, which keeps
// tests free of registry collisions.
type Metrics struct {
	// --- Position lifecycle ---
	PositionsOpened     *prometheus.CounterVec
	PositionsIncreased  *prometheus.CounterVec
	PositionsDecreased  *prometheus.CounterVec
	PositionsClosed     *prometheus.CounterVec
	PositionsLiquidated prometheus.Counter
	MarginOps           *prometheus.CounterVec
	OpenPositions       prometheus.Gauge
	OpsRejected         *prometheus.CounterVec

	// --- Market state ---
	MarkPrice    prometheus.Gauge
	IndexPrice   prometheus.Gauge
	ReserveAsset prometheus.Gauge
	ReserveQuote prometheus.Gauge

	// --- Funding ---
	FundingPasses           prometheus.Counter
	FundingDuration         prometheus.Histogram
	FundingPositionsSettled prometheus.Counter

	// --- Oracle ---
	OracleStaleRejections prometheus.Counter

	// --- Orders ---
	OrdersCreated  *prometheus.CounterVec
	OrdersExecuted *prometheus.CounterVec
	OrdersClosed   *prometheus.CounterVec

	// --- Event pipeline ---
	PublishDrops         prometheus.Counter
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistErrors        prometheus.Counter
	PersistRetry         prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		PositionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_positions_opened_total",
			Help: "Positions opened",
		}, []string{"direction"}),

		PositionsIncreased: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_positions_increased_total",
			Help: "Increases applied to existing positions",
		}, []string{"direction"}),

		PositionsDecreased: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_positions_decreased_total",
			Help: "Partial position reductions",
		}, []string{"direction"}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_positions_closed_total",
			Help: "Positions fully settled",
		}, []string{"direction"}),

		PositionsLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_positions_liquidated_total",
			Help: "Positions force-closed by liquidation",
		}),

		MarginOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_margin_ops_total",
			Help: "Margin add/remove operations",
		}, []string{"op"}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_open_positions",
			Help: "Currently open positions",
		}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_ops_rejected_total",
			Help: "Entrypoint calls rejected, by reason",
		}, []string{"op", "reason"}),

		MarkPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_mark_price",
			Help: "Current mark price at market scale",
		}),

		IndexPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_index_price",
			Help: "Last accepted index price at market scale",
		}),

		ReserveAsset: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_reserve_asset",
			Help: "Synthetic asset reserve",
		}),

		ReserveQuote: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_reserve_quote",
			Help: "Synthetic quote reserve",
		}),

		FundingPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_funding_passes_total",
			Help: "Completed funding distribution passes",
		}),

		FundingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vamm_funding_pass_duration_seconds",
			Help:    "Duration of one funding pass (linear in open positions)",
			Buckets: opBuckets,
		}),

		FundingPositionsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_funding_positions_settled_total",
			Help: "Positions touched across all funding passes",
		}),

		OracleStaleRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_oracle_stale_rejections_total",
			Help: "Mutations rejected because oracle data expired",
		}),

		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_orders_created_total",
			Help: "Conditional orders created",
		}, []string{"type"}),

		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_orders_executed_total",
			Help: "Order trigger executions",
		}, []string{"trigger"}),

		OrdersClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_orders_closed_total",
			Help: "Orders reaching Closed, by cause",
		}, []string{"cause"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_events_written_total",
			Help: "Event envelopes committed to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vamm_persist_batch_size",
			Help:    "Envelopes per Postgres batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_errors_total",
			Help: "Postgres batch write failures",
		}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_retries_total",
			Help: "Postgres batch write retries",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vamm_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"route"}),
	}
}

// SetGaugeBig sets a gauge from a big.Int, saturating at float range.
func SetGaugeBig(g prometheus.Gauge, v *big.Int) {
	if g == nil || v == nil {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	g.Set(f)
}
