package engine

import (
	"context"
	"fmt"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
	"github.com/avencia/graphrun/pkg/vars"
)

type pythonNode struct {
	spec domain.PythonNodeSpec
	deps Deps
}

func (n *pythonNode) name() string                { return n.spec.NodeName }
func (n *pythonNode) kind() domain.NodeKind       { return domain.NodeKindPython }
func (n *pythonNode) inputMap() map[string]string { return n.spec.InputMap }
func (n *pythonNode) outputPath() string          { return n.spec.OutputVariablePath }

func (n *pythonNode) execute(ctx context.Context, st *domain.ExecutionState, _ EmitFunc, _ int, input map[string]any) (any, error) {
	if n.deps.Sandbox == nil {
		return nil, fmt.Errorf("no sandbox executor configured")
	}

	res, err := n.deps.Sandbox.Run(ctx, ports.SandboxRequest{
		Code:       n.spec.Code,
		Entrypoint: n.spec.Entrypoint,
		Libraries:  n.spec.Libraries,
		Kwargs:     input,
		Globals:    contextSnapshot(st),
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox call failed: %w", err)
	}
	if res.ReturnCode != 0 {
		return nil, fmt.Errorf("code execution failed (exit %d): %s", res.ReturnCode, res.Stderr)
	}
	return vars.Normalize(res.Result), nil
}
