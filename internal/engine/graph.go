package engine

import (
	"context"
	"fmt"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/vars"
)

// Mode distinguishes the two chunk kinds of a graph stream.
type Mode string

const (
	// ModeSnapshot carries the full execution state after a node step.
	ModeSnapshot Mode = "snapshot"
	// ModeCustom carries one explicit message pushed by a node.
	ModeCustom Mode = "custom"
)

// Message is one node-scoped message before envelope wrapping.
type Message struct {
	Name           string
	ExecutionOrder int
	Data           domain.MessageData
}

// Chunk is one element of a graph run stream. Err, when set, terminates the
// stream; the channel is closed afterwards.
type Chunk struct {
	Mode    Mode
	State   *domain.ExecutionState
	Message Message
	Err     error
}

// CompiledGraph is an executable graph: nodes keyed by name, unconditional
// edges, at most one conditional edge per source, and the entry point.
type CompiledGraph struct {
	name        string
	entry       string
	nodes       map[string]node
	edges       map[string]string
	conditional map[string]domain.ConditionalEdge
	deps        Deps
}

// Name returns the graph definition name.
func (g *CompiledGraph) Name() string { return g.name }

// Run drives the graph to completion for one session, mutating st in place.
// It returns an async stream of chunks; the consumer owns st once the
// channel closes. Cancellation of ctx ends the stream with ctx's error.
func (g *CompiledGraph) Run(ctx context.Context, st *domain.ExecutionState) <-chan Chunk {
	out := make(chan Chunk)

	send := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		emit := func(name string, order int, data domain.MessageData) {
			send(Chunk{Mode: ModeCustom, Message: Message{Name: name, ExecutionOrder: order, Data: data}})
		}

		current := g.entry
		for current != "" && current != domain.EndNode {
			if err := ctx.Err(); err != nil {
				send(Chunk{Err: err})
				return
			}

			n, ok := g.nodes[current]
			if !ok {
				send(Chunk{Err: fmt.Errorf("%w: routed to unknown node %q", domain.ErrGraphDefinition, current)})
				return
			}

			output, err := run(ctx, n, st, emit)
			if err != nil {
				send(Chunk{Err: err})
				return
			}
			if !send(Chunk{Mode: ModeSnapshot, State: st}) {
				return
			}

			if n.kind() == domain.NodeKindDecisionTable {
				current, _ = output.(string)
				continue
			}
			current, err = g.route(ctx, current, st)
			if err != nil {
				send(Chunk{Err: err})
				return
			}
		}
	}()
	return out
}

// route resolves the next node after a non-decision node: the conditional
// edge when one is registered for the source, the direct edge otherwise.
func (g *CompiledGraph) route(ctx context.Context, src string, st *domain.ExecutionState) (string, error) {
	ce, ok := g.conditional[src]
	if !ok {
		return g.edges[src], nil
	}

	env := map[string]any{vars.RootToken: vars.Copy(st.Variables)}
	if len(ce.InputMap) > 0 {
		resolved, err := vars.New(st.Variables).Resolve(ce.InputMap)
		if err != nil {
			return "", fmt.Errorf("conditional edge from %q: %w", src, err)
		}
		for k, v := range resolved {
			env[k] = v
		}
	}

	// Fixed target: the condition gates the transition. Dynamic target: the
	// expression's value names the next node.
	if ce.Then != "" {
		matched, err := g.deps.Evaluator.Bool(ctx, ce.Condition, env)
		if err != nil {
			return "", fmt.Errorf("conditional edge from %q: %w", src, err)
		}
		if matched {
			return ce.Then, nil
		}
		return g.edges[src], nil
	}

	v, err := g.deps.Evaluator.Value(ctx, ce.Condition, env)
	if err != nil {
		return "", fmt.Errorf("conditional edge from %q: %w", src, err)
	}
	target := fmt.Sprint(v)
	if target != domain.EndNode && target != "" {
		if _, known := g.nodes[target]; !known {
			return "", fmt.Errorf("%w: conditional edge from %q routed to unknown node %q", domain.ErrGraphDefinition, src, target)
		}
	}
	return target, nil
}
