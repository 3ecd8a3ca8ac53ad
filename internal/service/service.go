// Package service glues the transport to the engine: it consumes the intake
// channel, persists sessions and their messages, and runs one goroutine per
// accepted session.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/internal/metrics"
	"github.com/avencia/graphrun/internal/monitor"
	"github.com/avencia/graphrun/internal/runner"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
	"github.com/avencia/graphrun/pkg/schema"
)

// Service owns the subscriber goroutines and the per-session run goroutines.
type Service struct {
	broker   ports.Broker
	sessions ports.SessionStore
	messages ports.MessageStore
	runner   *runner.Runner
	monitor  *monitor.Monitor
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	runs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMonitor attaches the session timeout monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = mx }
}

// New creates a Service.
func New(broker ports.Broker, sessions ports.SessionStore, messages ports.MessageStore, r *runner.Runner, opts ...Option) *Service {
	s := &Service{
		broker:   broker,
		sessions: sessions,
		messages: messages,
		runner:   r,
		logger:   logging.NewNop(),
		runs:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the intake, message and status channels and begins
// accepting sessions. It returns once the subscriptions are live; the
// subscriber loops run until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	intake, cancelIntake, err := s.broker.Subscribe(ctx, ports.ChannelSchemaIntake)
	if err != nil {
		return err
	}
	messages, cancelMessages, err := s.broker.Subscribe(ctx, ports.ChannelMessages)
	if err != nil {
		cancelIntake()
		return err
	}
	statuses, cancelStatuses, err := s.broker.Subscribe(ctx, ports.ChannelSessionStatus)
	if err != nil {
		cancelIntake()
		cancelMessages()
		return err
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer cancelIntake()
		s.intakeLoop(ctx, intake)
	}()
	go func() {
		defer s.wg.Done()
		defer cancelMessages()
		s.persistMessages(ctx, messages)
	}()
	go func() {
		defer s.wg.Done()
		defer cancelStatuses()
		s.persistStatuses(ctx, statuses)
	}()

	if s.monitor != nil {
		s.monitor.Start(ctx)
	}
	s.logger.Info("service started")
	return nil
}

// Wait blocks until every subscriber and session goroutine has exited.
func (s *Service) Wait() {
	s.wg.Wait()
	if s.monitor != nil {
		s.monitor.Shutdown()
	}
}

// Stop cancels one running session. The runner observes the cancellation at
// the next node boundary and finishes the session with status error.
func (s *Service) Stop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.runs[sessionID]; ok {
		cancel()
		delete(s.runs, sessionID)
	}
}

func (s *Service) intakeLoop(ctx context.Context, intake <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-intake:
			if !ok {
				return
			}
			s.accept(ctx, payload)
		}
	}
}

// accept validates one intake payload, persists the session and starts its
// run goroutine. Malformed payloads are logged and dropped; they carry no
// session to fail.
func (s *Service) accept(ctx context.Context, payload []byte) {
	ss, err := schema.Decode(payload)
	if err != nil {
		s.logger.Error("rejecting intake payload", "err", err)
		return
	}

	sess := &domain.Session{
		ID:          ss.SessionID,
		GraphName:   ss.Graph.Name,
		Status:      domain.StatusPending,
		TimeToLive:  time.Duration(ss.TimeToLive) * time.Second,
		Variables:   ss.Variables,
		GraphSchema: ss.Raw,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		s.logger.Error("failed to persist session", "session_id", sess.ID, "err", err)
		return
	}
	if s.monitor != nil && sess.TimeToLive > 0 {
		s.monitor.Watch(ctx, sess.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runs[sess.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("session accepted", "session_id", sess.ID, "graph", sess.GraphName)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.Stop(sess.ID)
		graph := ss.Graph
		if err := s.runner.Run(runCtx, sess, &graph); err != nil {
			s.logger.Error("session run failed", "session_id", sess.ID, "err", err)
		}
	}()
}
