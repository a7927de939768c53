package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/repository"
)

// Metrics contains the Prometheus collectors of the reconciler
type Metrics struct {
	// Ingress
	Envelopes *prometheus.CounterVec

	// Session state
	SessionsClosed prometheus.Counter
	EventsAppended *prometheus.CounterVec

	// Store gateway
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_envelopes_total",
			Help: "Inbound envelopes by outcome (merged, ignored or a failure class)",
		}, []string{"outcome"}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_sessions_closed_total",
			Help: "Stale sessions closed because a newer session started",
		}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_events_appended_total",
			Help: "Events merged into session logs by category",
		}, []string{"category"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconciler_store_operation_duration_seconds",
			Help:    "Latency of session store operations",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_store_errors_total",
			Help: "Failed session store operations",
		}, []string{"operation"}),
	}

	reg.MustRegister(m.Envelopes, m.SessionsClosed, m.EventsAppended, m.StoreDuration, m.StoreErrors)
	return m
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	m.StoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(operation).Inc()
	}
}

type instrumentedStore struct {
	next    repository.SessionStore
	metrics *Metrics
}

// InstrumentStore wraps a session store with latency and error metrics
func InstrumentStore(next repository.SessionStore, m *Metrics) repository.SessionStore {
	return &instrumentedStore{next: next, metrics: m}
}

func (s *instrumentedStore) GetSession(ctx context.Context, channelArn, sessionID string) (*models.StreamSession, error) {
	start := time.Now()
	session, err := s.next.GetSession(ctx, channelArn, sessionID)
	s.metrics.observe("get_session", start, err)
	return session, err
}

func (s *instrumentedStore) ListSessionsByChannel(ctx context.Context, channelArn string) ([]models.SessionSummary, error) {
	start := time.Now()
	sessions, err := s.next.ListSessionsByChannel(ctx, channelArn)
	s.metrics.observe("list_sessions", start, err)
	return sessions, err
}

func (s *instrumentedStore) AppendEvent(ctx context.Context, req repository.AppendRequest) error {
	start := time.Now()
	err := s.next.AppendEvent(ctx, req)
	s.metrics.observe("append_event", start, err)
	if err == nil {
		s.metrics.EventsAppended.WithLabelValues(req.Event.Type).Inc()
	}
	return err
}

func (s *instrumentedStore) CloseSession(ctx context.Context, channelArn, sessionID string) error {
	start := time.Now()
	err := s.next.CloseSession(ctx, channelArn, sessionID)
	s.metrics.observe("close_session", start, err)
	if err == nil {
		s.metrics.SessionsClosed.Inc()
	}
	return err
}
