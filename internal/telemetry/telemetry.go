package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is a
// valid no-op receiver so components can be wired without telemetry in tests.
type Metrics struct {
	sessionsStarted     prometheus.Counter
	sessionsCompleted   prometheus.Counter
	sessionsExpired     prometheus.Counter
	turns               prometheus.Counter
	generationFallbacks *prometheus.CounterVec
	retrievalFailures   prometheus.Counter
	sessionTurns        prometheus.Histogram
}

// New creates and registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_sessions_started_total",
			Help: "Sessions started",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_sessions_completed_total",
			Help: "Sessions that reached a final recommendation",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_sessions_expired_total",
			Help: "Sessions removed by explicit expiry or the TTL sweep",
		}),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_turns_total",
			Help: "Answers successfully ingested",
		}),
		generationFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_generation_fallbacks_total",
			Help: "Generation-service failures absorbed by a deterministic fallback",
		}, []string{"component"}),
		retrievalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_retrieval_failures_total",
			Help: "Evidence retrieval failures treated as empty evidence",
		}),
		sessionTurns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_session_turns",
			Help:    "Turn count at session completion",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	reg.MustRegister(
		m.sessionsStarted, m.sessionsCompleted, m.sessionsExpired, m.turns,
		m.generationFallbacks, m.retrievalFailures, m.sessionTurns,
	)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) SessionCompleted(turns int) {
	if m == nil {
		return
	}
	m.sessionsCompleted.Inc()
	m.sessionTurns.Observe(float64(turns))
}

func (m *Metrics) SessionsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsExpired.Add(float64(n))
}

func (m *Metrics) TurnIngested() {
	if m == nil {
		return
	}
	m.turns.Inc()
}

func (m *Metrics) GenerationFallback(component string) {
	if m == nil {
		return
	}
	m.generationFallbacks.WithLabelValues(component).Inc()
}

func (m *Metrics) RetrievalFailure() {
	if m == nil {
		return
	}
	m.retrievalFailures.Inc()
}
