package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Outcome labels for submission attempts
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyApplied   = "already_applied"
	OutcomeBlockhashExpired = "blockhash_expired"
	OutcomeRetryable        = "retryable"
)

type UploaderMetrics struct {
	submissions      *prometheus.CounterVec
	rounds           prometheus.Counter
	pending          prometheus.Gauge
	inFlight         prometheus.Gauge
	blockhashFetches *prometheus.CounterVec

	triggers      prometheus.Counter
	watermark     prometheus.Gauge
	skippedEvents *prometheus.CounterVec

	workflowRuns   *prometheus.CounterVec
	treesExcluded  *prometheus.CounterVec
	treesPublished prometheus.Counter
	signerBalance  prometheus.Gauge
}

// NewUploaderMetrics registers the uploader's metrics with reg. A nil reg
// registers with the default registry. Methods are no-ops on a nil receiver.
func NewUploaderMetrics(namespace string, reg prometheus.Registerer) *UploaderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &UploaderMetrics{
		// submission engine
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_submission_attempts_total", namespace),
			Help: "Transaction submission attempts by classified outcome",
		}, []string{"outcome"}),
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_submission_rounds_total", namespace),
			Help: "Completed submission rounds",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_pending_transactions", namespace),
			Help: "Transactions not yet confirmed in the current run",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_inflight_submissions", namespace),
			Help: "Submissions currently awaiting the ledger",
		}),
		blockhashFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_blockhash_fetches_total", namespace),
			Help: "Blockhash fetches by result",
		}, []string{"result"}),
		// event monitor
		triggers: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_resolution_triggers_total", namespace),
			Help: "Resolution events that triggered an upload",
		}),
		watermark: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_event_watermark_seconds", namespace),
			Help: "Block time of the newest processed history entry",
		}),
		skippedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_skipped_history_entries_total", namespace),
			Help: "History entries skipped by the event monitor, by reason",
		}, []string{"reason"}),
		// workflow
		workflowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_workflow_runs_total", namespace),
			Help: "Upload workflow invocations by result",
		}, []string{"result"}),
		treesExcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_trees_excluded_total", namespace),
			Help: "Commitments not submitted, by reason",
		}, []string{"reason"}),
		treesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_trees_published_total", namespace),
			Help: "Commitments confirmed on the ledger",
		}),
		signerBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_signer_balance_lamports", namespace),
			Help: "Balance of the upload authority at the last preflight check",
		}),
	}
}

func (m *UploaderMetrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *UploaderMetrics) IncRounds() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}

func (m *UploaderMetrics) SetPending(count int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(count))
}

func (m *UploaderMetrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

func (m *UploaderMetrics) IncBlockhashFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.blockhashFetches.WithLabelValues(result).Inc()
}

func (m *UploaderMetrics) IncTriggers() {
	if m == nil {
		return
	}
	m.triggers.Inc()
}

func (m *UploaderMetrics) SetWatermark(t time.Time) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(t.Unix()))
}

func (m *UploaderMetrics) IncSkippedEvent(reason string) {
	if m == nil {
		return
	}
	m.skippedEvents.WithLabelValues(reason).Inc()
}

func (m *UploaderMetrics) IncWorkflowRun(result string) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(result).Inc()
}

func (m *UploaderMetrics) AddTreesExcluded(reason string, count int) {
	if m == nil {
		return
	}
	m.treesExcluded.WithLabelValues(reason).Add(float64(count))
}

func (m *UploaderMetrics) AddTreesPublished(count int) {
	if m == nil {
		return
	}
	m.treesPublished.Add(float64(count))
}

func (m *UploaderMetrics) SetSignerBalance(lamports uint64) {
	if m == nil {
		return
	}
	m.signerBalance.Set(float64(lamports))
}

// Serve exposes gatherer on /metrics until ctx is cancelled.
func Serve(ctx context.Context, port int, gatherer prometheus.Gatherer, l *zap.Logger) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	l.Sugar().Infow("Starting metrics server", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
