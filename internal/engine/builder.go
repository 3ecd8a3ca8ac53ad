package engine

import (
	"fmt"
	"log/slog"

	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
	"github.com/avencia/graphrun/pkg/schema"
)

// Deps are the collaborators wired into every node at build time.
type Deps struct {
	Sandbox   ports.Sandbox
	Evaluator ports.Evaluator
	Crew      ports.CrewExecutor
	LLM       ports.LLMClient
	Waiter    UserInputWaiter
	Logger    *slog.Logger
}

// Builder is a pure, stateless translation from a declarative graph schema
// to an executable graph.
type Builder struct {
	deps Deps
}

// NewBuilder creates a builder with the given collaborators.
func NewBuilder(deps Deps) *Builder {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Builder{deps: deps}
}

// Build validates the definition and wires one node object per spec, every
// edge and conditional edge, and the entry point. It fails fast with
// domain.ErrGraphDefinition before any execution.
func (b *Builder) Build(g *domain.Graph) (*CompiledGraph, error) {
	if err := schema.Validate(g); err != nil {
		return nil, err
	}

	nodes := make(map[string]node)
	for _, spec := range g.CrewNodes {
		nodes[spec.NodeName] = &crewNode{spec: spec, deps: b.deps}
	}
	for _, spec := range g.PythonNodes {
		nodes[spec.NodeName] = &pythonNode{spec: spec, deps: b.deps}
	}
	for _, spec := range g.LLMNodes {
		nodes[spec.NodeName] = &llmNode{spec: spec, deps: b.deps}
	}
	for _, spec := range g.DecisionTables {
		nodes[spec.NodeName] = &decisionNode{spec: spec, deps: b.deps}
	}

	edges := make(map[string]string, len(g.Edges))
	for _, e := range g.Edges {
		if _, dup := edges[e.StartKey]; dup {
			return nil, fmt.Errorf("%w: multiple edges from %q", domain.ErrGraphDefinition, e.StartKey)
		}
		edges[e.StartKey] = e.EndKey
	}

	conditional := make(map[string]domain.ConditionalEdge, len(g.ConditionalEdges))
	for _, ce := range g.ConditionalEdges {
		conditional[ce.Source] = ce
	}

	return &CompiledGraph{
		name:        g.Name,
		entry:       g.EntryPoint,
		nodes:       nodes,
		edges:       edges,
		conditional: conditional,
		deps:        b.deps,
	}, nil
}
