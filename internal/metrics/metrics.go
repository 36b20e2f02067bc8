package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conversion outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

type Registry struct {
	reg          *prometheus.Registry
	Conversions  *prometheus.CounterVec
	RowsRead     prometheus.Counter
	RowsRejected prometheus.Counter
	Transactions prometheus.Counter
	AmountEUR    prometheus.Counter
	LatencySec   prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sepa_conversions_total",
		Help: "Conversions by outcome.",
	}, []string{"outcome"})
	rowsRead := prometheus.NewCounter(prometheus.CounterOpts{Name: "sepa_rows_read_total"})
	rowsRejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "sepa_rows_rejected_total"})
	transactions := prometheus.NewCounter(prometheus.CounterOpts{Name: "sepa_transactions_total"})
	amount := prometheus.NewCounter(prometheus.CounterOpts{Name: "sepa_amount_eur_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sepa_conversion_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(conversions, rowsRead, rowsRejected, transactions, amount, latency)
	return &Registry{
		reg:          r,
		Conversions:  conversions,
		RowsRead:     rowsRead,
		RowsRejected: rowsRejected,
		Transactions: transactions,
		AmountEUR:    amount,
		LatencySec:   latency,
	}
}

// Observe records one finished conversion. A nil registry ignores the call.
func (r *Registry) Observe(outcome string, rows, rejected, txs int, amount float64, took time.Duration) {
	if r == nil {
		return
	}
	r.Conversions.WithLabelValues(outcome).Inc()
	r.RowsRead.Add(float64(rows))
	r.RowsRejected.Add(float64(rejected))
	r.Transactions.Add(float64(txs))
	if amount > 0 {
		r.AmountEUR.Add(amount)
	}
	r.LatencySec.Observe(took.Seconds())
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
