package engine

import (
	"context"
	"fmt"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
)

// UserInputWaiter implements the wait-for-user sub-protocol: it blocks the
// calling node until a user_input message matching the identification triple
// arrives, and returns the (possibly knowledge-augmented) text.
type UserInputWaiter interface {
	WaitForUser(ctx context.Context, req WaitRequest) (string, error)
}

// WaitRequest identifies one blocked crew execution.
type WaitRequest struct {
	CrewID              string
	NodeName            string
	ExecutionOrder      int
	Prompt              string
	KnowledgeCollection string
}

type crewNode struct {
	spec domain.CrewNodeSpec
	deps Deps
}

func (n *crewNode) name() string                { return n.spec.NodeName }
func (n *crewNode) kind() domain.NodeKind       { return domain.NodeKindCrew }
func (n *crewNode) inputMap() map[string]string { return n.spec.InputMap }
func (n *crewNode) outputPath() string          { return n.spec.OutputVariablePath }

func (n *crewNode) execute(ctx context.Context, st *domain.ExecutionState, emit EmitFunc, order int, input map[string]any) (any, error) {
	if n.deps.Crew == nil {
		return nil, fmt.Errorf("no crew executor configured")
	}

	hooks := ports.CrewHooks{
		OnAgentStep: func(ctx context.Context, payload map[string]any) {
			emit(n.spec.NodeName, order, domain.MessageData{Type: domain.MessageCustom, Payload: payload})
		},
		OnTaskDone: func(ctx context.Context, payload map[string]any) {
			emit(n.spec.NodeName, order, domain.MessageData{Type: domain.MessageCustom, Payload: payload})
		},
	}
	if n.deps.Waiter != nil {
		hooks.WaitForUser = func(ctx context.Context, prompt string) (string, error) {
			return n.deps.Waiter.WaitForUser(ctx, WaitRequest{
				CrewID:              n.spec.CrewID,
				NodeName:            n.spec.NodeName,
				ExecutionOrder:      order,
				Prompt:              prompt,
				KnowledgeCollection: n.spec.KnowledgeCollection,
			})
		}
	}

	res, err := n.deps.Crew.Kickoff(ctx, ports.CrewRequest{
		CrewID:     n.spec.CrewID,
		Definition: n.spec.Definition,
		Input:      input,
		Context:    contextSnapshot(st),
	}, hooks)
	if err != nil {
		return nil, fmt.Errorf("crew kickoff failed: %w", err)
	}

	if res.Structured != nil {
		return res.Structured, nil
	}
	return map[string]any{"raw": res.Raw}, nil
}
