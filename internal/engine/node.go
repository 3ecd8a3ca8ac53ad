// Package engine compiles declarative graph definitions into executable
// graphs and drives their node-by-node execution.
package engine

import (
	"context"
	"fmt"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/vars"
)

// EmitFunc pushes one lifecycle/custom message out of the running graph.
// The session runner wraps messages into transport envelopes.
type EmitFunc func(name string, executionOrder int, data domain.MessageData)

// node is the common execution contract implemented by all four node kinds.
type node interface {
	name() string
	kind() domain.NodeKind
	inputMap() map[string]string
	outputPath() string

	// execute performs the kind-specific work. Decision-table nodes emit
	// their own Finish/Error messages; every other kind leaves lifecycle
	// messages to the run wrapper.
	execute(ctx context.Context, st *domain.ExecutionState, emit EmitFunc, executionOrder int, input map[string]any) (any, error)
}

// run is the shared lifecycle wrapper: input resolution, start message,
// execute, output placement, history append, finish message. An error at
// any step emits an Error message and aborts with no partial commit.
func run(ctx context.Context, n node, st *domain.ExecutionState, emit EmitFunc) (any, error) {
	order := st.ExecutionOrder(n.name())
	store := vars.New(st.Variables)

	input, err := store.Resolve(n.inputMap())
	if err != nil {
		emit(n.name(), order, domain.MessageData{Type: domain.MessageError, Error: err.Error()})
		return nil, fmt.Errorf("node %q: %w", n.name(), err)
	}

	start := domain.MessageData{Type: domain.MessageStart, Input: input}
	if n.kind() == domain.NodeKindDecisionTable {
		start.Variables = store.Snapshot()
	}
	emit(n.name(), order, start)

	output, err := n.execute(ctx, st, emit, order, input)
	if err != nil {
		emit(n.name(), order, domain.MessageData{Type: domain.MessageError, Error: err.Error()})
		return nil, fmt.Errorf("node %q: %w", n.name(), err)
	}

	if n.kind() != domain.NodeKindDecisionTable {
		if err := store.Apply(n.outputPath(), output); err != nil {
			emit(n.name(), order, domain.MessageData{Type: domain.MessageError, Error: err.Error()})
			return nil, fmt.Errorf("node %q: %w", n.name(), err)
		}
	}

	st.Append(domain.HistoryRecord{
		Type:           n.kind(),
		Name:           n.name(),
		Input:          input,
		Output:         output,
		Variables:      store.Snapshot(),
		ExecutionOrder: order,
	})

	if n.kind() != domain.NodeKindDecisionTable {
		emit(n.name(), order, domain.MessageData{
			Type:      domain.MessageFinish,
			Output:    output,
			Variables: store.Snapshot(),
		})
	}
	return output, nil
}

// contextSnapshot is the read-only {variables, state_history} view injected
// into crew kickoffs and sandbox executions.
func contextSnapshot(st *domain.ExecutionState) map[string]any {
	history := make([]any, len(st.History))
	for i, rec := range st.History {
		history[i] = map[string]any{
			"type":            string(rec.Type),
			"name":            rec.Name,
			"input":           vars.Copy(rec.Input),
			"output":          vars.Copy(rec.Output),
			"execution_order": rec.ExecutionOrder,
		}
	}
	return map[string]any{
		"variables":     vars.Copy(st.Variables),
		"state_history": history,
	}
}
