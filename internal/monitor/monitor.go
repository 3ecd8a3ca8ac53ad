// Package monitor enforces session time-to-live independently of the
// runner: one lightweight watcher goroutine per active session, plus a
// startup reconciliation pass that rebuilds the pool after a restart.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/internal/metrics"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
)

// Monitor tracks the TTL of every active session.
type Monitor struct {
	sessions ports.SessionStore
	broker   ports.Broker
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// grace delays startup reconciliation so the rest of the process can
	// finish wiring; buffer pads each adaptive sleep.
	grace  time.Duration
	buffer time.Duration

	mu       sync.Mutex
	watchers map[string]*watcher
	wg       sync.WaitGroup
}

type watcher struct {
	cancel context.CancelFunc
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithGrace overrides the startup reconciliation delay.
func WithGrace(d time.Duration) Option {
	return func(m *Monitor) { m.grace = d }
}

// WithBuffer overrides the sleep padding added to each TTL deadline.
func WithBuffer(d time.Duration) Option {
	return func(m *Monitor) { m.buffer = d }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mx }
}

// New creates a Monitor over the session store and transport.
func New(sessions ports.SessionStore, broker ports.Broker, opts ...Option) *Monitor {
	m := &Monitor{
		sessions: sessions,
		broker:   broker,
		logger:   logging.NewNop(),
		grace:    5 * time.Second,
		buffer:   500 * time.Millisecond,
		watchers: make(map[string]*watcher),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the startup reconciliation after the grace delay: every
// persisted active session with a TTL gets a watcher, and sessions already
// overdue are expired immediately. This recovers monitoring state after a
// process restart.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.grace):
		}

		active, err := m.sessions.ListActive(ctx)
		if err != nil {
			m.logger.Error("timeout reconciliation failed", "err", err)
			return
		}
		for _, sess := range active {
			if m.watched(sess.ID) {
				continue
			}
			if overdue(sess, time.Now()) {
				m.expire(ctx, sess.ID)
				continue
			}
			m.Watch(ctx, sess.ID)
		}
		m.logger.Info("timeout reconciliation complete", "sessions", len(active))
	}()
}

// Watch starts (or restarts) the watcher for a session. An existing watcher
// for the same id is cancelled and replaced so duplicate starts can never
// produce duplicate timeout events.
func (m *Monitor) Watch(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if prev, ok := m.watchers[sessionID]; ok {
		prev.cancel()
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{cancel: cancel}
	m.watchers[sessionID] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.forget(sessionID, w)
		m.watch(wctx, sessionID)
	}()
}

// Stop removes the watcher for one session.
func (m *Monitor) Stop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[sessionID]; ok {
		w.cancel()
		delete(m.watchers, sessionID)
	}
}

// Shutdown cancels every watcher and waits for them to exit.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	for id, w := range m.watchers {
		w.cancel()
		delete(m.watchers, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) watched(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[sessionID]
	return ok
}

// forget removes the watcher entry only if it still belongs to this
// goroutine. A cancel-and-replace may have installed a newer watcher
// under the same id; that entry must survive.
func (m *Monitor) forget(sessionID string, own *watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers[sessionID] == own {
		delete(m.watchers, sessionID)
	}
	own.cancel()
}

// watch is the adaptive per-session loop: sleep until the deadline, then
// re-read the session (status and TTL may have changed) and either stop,
// expire, or loop with a fresh deadline.
func (m *Monitor) watch(ctx context.Context, sessionID string) {
	for {
		sess, err := m.sessions.Get(ctx, sessionID)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("timeout watcher lost session", "session_id", sessionID, "err", err)
			}
			return
		}
		if sess.TimeToLive == 0 || !sess.Status.Active() {
			return
		}

		now := time.Now()
		if overdue(sess, now) {
			m.expire(ctx, sessionID)
			return
		}

		deadline := sess.StatusUpdatedAt.Add(sess.TimeToLive)
		select {
		case <-ctx.Done():
			return
		case <-time.After(deadline.Sub(now) + m.buffer):
		}
	}
}

// expire publishes exactly one timeout event for the session. The status
// persister rejects the downgrade if the session finished in the meantime.
func (m *Monitor) expire(ctx context.Context, sessionID string) {
	payload, err := sonic.Marshal(domain.StatusUpdate{
		SessionID:  sessionID,
		Status:     domain.StatusExpired,
		StatusData: map[string]any{"reason": "time_to_live exceeded"},
	})
	if err != nil {
		m.logger.Error("failed to encode timeout event", "session_id", sessionID, "err", err)
		return
	}
	if err := m.broker.Publish(context.WithoutCancel(ctx), ports.ChannelSessionStatus, payload); err != nil {
		m.logger.Error("failed to publish timeout event", "session_id", sessionID, "err", err)
		return
	}
	if m.metrics != nil {
		m.metrics.SessionTimeouts.Inc()
	}
	m.logger.Info("session expired", "session_id", sessionID)
}

func overdue(sess *domain.Session, now time.Time) bool {
	return now.Sub(sess.StatusUpdatedAt) >= sess.TimeToLive
}
