package engine

import (
	"context"
	"fmt"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
)

type llmNode struct {
	spec domain.LLMNodeSpec
	deps Deps
}

func (n *llmNode) name() string                { return n.spec.NodeName }
func (n *llmNode) kind() domain.NodeKind       { return domain.NodeKindLLM }
func (n *llmNode) inputMap() map[string]string { return n.spec.InputMap }
func (n *llmNode) outputPath() string          { return n.spec.OutputVariablePath }

func (n *llmNode) execute(ctx context.Context, _ *domain.ExecutionState, _ EmitFunc, _ int, input map[string]any) (any, error) {
	if n.deps.LLM == nil {
		return nil, fmt.Errorf("no llm client configured")
	}

	query, ok := input["query"].(string)
	if !ok {
		query = fmt.Sprint(input["query"])
	}

	text, err := n.deps.LLM.Complete(ctx, ports.LLMRequest{
		Model:        n.spec.Model,
		SystemPrompt: n.spec.SystemPrompt,
		Query:        query,
		Temperature:  n.spec.Temperature,
		MaxTokens:    n.spec.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}
	return map[string]any{"response": text}, nil
}
