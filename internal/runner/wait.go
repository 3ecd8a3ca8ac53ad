package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/avencia/graphrun/internal/engine"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
)

// sessionWaiter implements the wait-for-user sub-protocol for one session.
// A node blocks here pending human input; other sessions are unaffected.
type sessionWaiter struct {
	runner    *Runner
	sessionID string
}

// WaitForUser publishes status wait_for_user, then blocks on the session's
// user_input channel until a message matching the {crew_id, node_name,
// execution_order} triple arrives. The subscription is taken before the
// status is published so a prompt reply cannot be missed.
func (w *sessionWaiter) WaitForUser(ctx context.Context, req engine.WaitRequest) (string, error) {
	r := w.runner

	ch, cancel, err := r.broker.Subscribe(ctx, ports.UserInputChannel(w.sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to subscribe for user input: %w", err)
	}
	defer cancel()

	r.publishStatus(ctx, w.sessionID, domain.StatusWaitForUser, map[string]any{
		"node_name":       req.NodeName,
		"execution_order": req.ExecutionOrder,
		"prompt":          req.Prompt,
	}, "")
	r.logger.Info("waiting for user input",
		"session_id", w.sessionID,
		"node", req.NodeName,
		"execution_order", req.ExecutionOrder,
	)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return "", fmt.Errorf("user input channel closed")
			}
			var in domain.UserInput
			if err := sonic.Unmarshal(raw, &in); err != nil {
				r.logger.Warn("discarding malformed user input", "session_id", w.sessionID, "err", err)
				continue
			}
			if in.CrewID != req.CrewID || in.NodeName != req.NodeName || in.ExecutionOrder != req.ExecutionOrder {
				continue
			}

			r.publishStatus(ctx, w.sessionID, domain.StatusRun, nil, "")
			return w.augment(ctx, req, in.Text), nil
		}
	}
}

// augment appends knowledge-search context to the user's reply when the crew
// node names a collection. Lookup failures degrade to the raw text.
func (w *sessionWaiter) augment(ctx context.Context, req engine.WaitRequest, text string) string {
	r := w.runner
	if r.knowledge == nil || req.KnowledgeCollection == "" {
		return text
	}
	hits, err := r.knowledge.Search(ctx, req.KnowledgeCollection, text, 5, 0.5)
	if err != nil {
		r.logger.Warn("knowledge lookup failed", "session_id", w.sessionID, "collection", req.KnowledgeCollection, "err", err)
		return text
	}
	if len(hits) == 0 {
		return text
	}
	return text + "\n\nRelevant context:\n- " + strings.Join(hits, "\n- ")
}
