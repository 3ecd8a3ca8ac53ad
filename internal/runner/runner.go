// Package runner drives one compiled graph to completion per session,
// streaming lifecycle events over the transport and reporting status
// transitions.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"

	"github.com/avencia/graphrun/internal/engine"
	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/internal/metrics"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
)

// Runner executes sessions. One Run call per session, each on its own
// goroutine; the execution state it owns is never shared.
type Runner struct {
	broker    ports.Broker
	sandbox   ports.Sandbox
	evaluator ports.Evaluator
	crew      ports.CrewExecutor
	llm       ports.LLMClient
	sessions  ports.SessionStore
	knowledge ports.KnowledgeSearcher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Runner.
type Option func(*Runner)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithSessionStore enables persisting the durable variables copy.
func WithSessionStore(s ports.SessionStore) Option {
	return func(r *Runner) { r.sessions = s }
}

// WithKnowledge enables wait-for-user knowledge augmentation.
func WithKnowledge(k ports.KnowledgeSearcher) Option {
	return func(r *Runner) { r.knowledge = k }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner over the transport and collaborator clients.
func New(broker ports.Broker, sb ports.Sandbox, eval ports.Evaluator, crew ports.CrewExecutor, llm ports.LLMClient, opts ...Option) *Runner {
	r := &Runner{
		broker:    broker,
		sandbox:   sb,
		evaluator: eval,
		crew:      crew,
		llm:       llm,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the session's graph to completion. The session lands in
// status end, or error on the first unhandled node failure; there is no
// retry at this layer. Cancelling ctx stops the run at the next node
// boundary or inside the current collaborator call.
func (r *Runner) Run(ctx context.Context, sess *domain.Session, g *domain.Graph) error {
	log := r.logger.With("session_id", sess.ID, "graph", g.Name)
	if r.metrics != nil {
		r.metrics.SessionsStarted.Inc()
	}

	builder := engine.NewBuilder(engine.Deps{
		Sandbox:   r.sandbox,
		Evaluator: r.evaluator,
		Crew:      r.crew,
		LLM:       r.llm,
		Waiter:    &sessionWaiter{runner: r, sessionID: sess.ID},
		Logger:    r.logger,
	})
	compiled, err := builder.Build(g)
	if err != nil {
		log.Error("graph build failed", "err", err)
		r.finish(ctx, sess, nil, domain.StatusError, map[string]any{"error": err.Error()})
		return err
	}

	r.publishStatus(ctx, sess.ID, domain.StatusRun, nil, "")
	log.Info("session started", "entry_point", g.EntryPoint)

	st := domain.NewExecutionState(sess.Variables)
	var finalOutput any

	for chunk := range compiled.Run(ctx, st) {
		switch {
		case chunk.Err != nil:
			log.Error("session failed", "err", chunk.Err)
			r.finish(ctx, sess, st, domain.StatusError, map[string]any{"error": chunk.Err.Error()})
			return chunk.Err

		case chunk.Mode == engine.ModeCustom:
			r.publishMessage(ctx, sess.ID, chunk.Message)

		case chunk.Mode == engine.ModeSnapshot:
			if n := len(chunk.State.History); n > 0 {
				rec := chunk.State.History[n-1]
				finalOutput = rec.Output
				if r.metrics != nil {
					r.metrics.NodesExecuted.WithLabelValues(string(rec.Type)).Inc()
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		// Cancelled between the last chunk and channel close.
		r.finish(ctx, sess, st, domain.StatusError, map[string]any{"error": err.Error()})
		return err
	}

	log.Info("session finished", "nodes", len(st.History))
	r.finish(ctx, sess, st, domain.StatusEnd, map[string]any{"output": finalOutput})
	return nil
}

// finish publishes the terminal status and persists the durable variables
// copy. It must succeed even when the run context was cancelled.
func (r *Runner) finish(ctx context.Context, sess *domain.Session, st *domain.ExecutionState, status domain.SessionStatus, data map[string]any) {
	ctx = context.WithoutCancel(ctx)
	if r.metrics != nil {
		r.metrics.SessionsFinished.WithLabelValues(string(status)).Inc()
	}
	if r.sessions != nil && st != nil {
		if err := r.sessions.SaveVariables(ctx, sess.ID, st.Variables); err != nil {
			r.logger.Warn("failed to persist session variables", "session_id", sess.ID, "err", err)
		}
	}
	r.publishStatus(ctx, sess.ID, status, data, "")
}

// publishMessage forwards one custom chunk verbatim to the message channel.
func (r *Runner) publishMessage(ctx context.Context, sessionID string, msg engine.Message) {
	env := domain.Envelope{
		SessionID:      sessionID,
		Name:           msg.Name,
		ExecutionOrder: msg.ExecutionOrder,
		Timestamp:      time.Now().UTC(),
		MessageData:    msg.Data,
	}
	payload, err := sonic.Marshal(env)
	if err != nil {
		r.logger.Error("failed to encode envelope", "session_id", sessionID, "err", err)
		return
	}
	if err := r.broker.Publish(ctx, ports.ChannelMessages, payload); err != nil {
		r.logger.Warn("failed to publish graph message", "session_id", sessionID, "err", err)
	}
}

func (r *Runner) publishStatus(ctx context.Context, sessionID string, status domain.SessionStatus, data map[string]any, errMsg string) {
	payload, err := sonic.Marshal(domain.StatusUpdate{
		SessionID:  sessionID,
		Status:     status,
		StatusData: data,
		Error:      errMsg,
	})
	if err != nil {
		r.logger.Error("failed to encode status update", "session_id", sessionID, "err", err)
		return
	}
	if err := r.broker.Publish(ctx, ports.ChannelSessionStatus, payload); err != nil {
		r.logger.Warn("failed to publish session status", "session_id", sessionID, "status", status, "err", err)
	}
}
