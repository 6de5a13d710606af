package metrics

import (
	"strconv"

	"market_sales/internal/sales"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "market"

// Recorder exports market activity as prometheus counters.
type Recorder struct {
	listed          *prometheus.CounterVec
	removed         *prometheus.CounterVec
	bids            prometheus.Counter
	started         prometheus.Counter
	resolved        *prometheus.CounterVec
	paymentFailures prometheus.Counter
}

// New registers the market counters on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		listed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_listed_total",
			Help:      "Approvals accepted, by whether the sale is an auction.",
		}, []string{"auction"}),
		removed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_removed_total",
			Help:      "Sales removed from the registry, by reason.",
		}, []string{"reason"}),
		bids: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_placed_total",
			Help:      "Bids accepted.",
		}),
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_started_total",
			Help:      "Settlements whose custody transfer was requested.",
		}),
		resolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_resolved_total",
			Help:      "Settlements resolved, by status.",
		}, []string{"status"}),
		paymentFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_failures_total",
			Help:      "Payments out of escrow that failed and were dropped.",
		}),
	}
}

func (r *Recorder) SaleListed(auction bool) {
	r.listed.WithLabelValues(strconv.FormatBool(auction)).Inc()
}

func (r *Recorder) SaleRemoved(reason string) {
	r.removed.WithLabelValues(reason).Inc()
}

func (r *Recorder) BidPlaced() {
	r.bids.Inc()
}

func (r *Recorder) SettlementStarted() {
	r.started.Inc()
}

func (r *Recorder) SettlementResolved(status sales.SettlementStatus) {
	r.resolved.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) PaymentFailed() {
	r.paymentFailures.Inc()
}
