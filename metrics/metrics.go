package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const aaNamespace = "aa"

// PipelineMetrics counts the externally visible outcomes of the submission
// pipeline. Label cardinality stays small on purpose: payment kinds and error
// kinds are closed sets.
type PipelineMetrics struct {
	numSubmissions      *prometheus.CounterVec
	numConfirmed        *prometheus.CounterVec
	numFailed           *prometheus.CounterVec
	numFallbacks        prometheus.Counter
	numNonceRebuilds    prometheus.Counter
	numDeployments      prometheus.Counter
	numApprovals        prometheus.Counter
	receiptWaitDuration prometheus.Histogram
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	return &PipelineMetrics{
		numSubmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_submissions_total",
				Help:      "The number of operations handed to the bundler, by payment kind",
			}, []string{"payment"}),

		numConfirmed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_confirmed_total",
				Help:      "The number of operations confirmed on chain, by payment kind",
			}, []string{"payment"}),

		numFailed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_failed_total",
				Help:      "The number of submissions that ended in a terminal failure, by error kind",
			}, []string{"kind"}),

		numFallbacks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_payment_fallbacks_total",
				Help:      "The number of times sponsorship fell back to the next payment method",
			}),

		numNonceRebuilds: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_nonce_rebuilds_total",
				Help:      "The number of operations rebuilt after a stale-nonce rejection",
			}),

		numDeployments: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_wallet_deployments_total",
				Help:      "The number of smart wallets deployed by the pipeline",
			}),

		numApprovals: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_token_approvals_total",
				Help:      "The number of paymaster allowance approvals submitted",
			}),

		receiptWaitDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: aaNamespace,
				Name:      "receipt_wait_seconds",
				Help:      "How long receipt polling took for confirmed operations",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
			}),
	}
}

func (m *PipelineMetrics) IncSubmission(payment string) {
	m.numSubmissions.WithLabelValues(payment).Inc()
}

func (m *PipelineMetrics) IncConfirmed(payment string) {
	m.numConfirmed.WithLabelValues(payment).Inc()
}

func (m *PipelineMetrics) IncFailed(kind string) { m.numFailed.WithLabelValues(kind).Inc() }

func (m *PipelineMetrics) IncFallback() { m.numFallbacks.Inc() }

func (m *PipelineMetrics) IncNonceRebuild() { m.numNonceRebuilds.Inc() }

func (m *PipelineMetrics) IncDeployment() { m.numDeployments.Inc() }

func (m *PipelineMetrics) IncApproval() { m.numApprovals.Inc() }

func (m *PipelineMetrics) ObserveReceiptWait(sec float64) { m.receiptWaitDuration.Observe(sec) }

// NoopMetrics satisfies callers that do not wire a registry (tests, CLI
// one-shots) without nil checks at every increment site.
func NoopMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.NewRegistry())
}
