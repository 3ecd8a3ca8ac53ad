package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
	"github.com/avencia/graphrun/pkg/vars"
)

// RemoteEvaluator ships decision-table expressions to the sandbox executor,
// preserving the isolation boundary for untrusted expressions. Each
// expression is wrapped into a tiny function and sent over the same channel
// python nodes use.
type RemoteEvaluator struct {
	sandbox ports.Sandbox
}

// NewRemoteEvaluator wraps a sandbox into a ports.Evaluator.
func NewRemoteEvaluator(s ports.Sandbox) *RemoteEvaluator {
	return &RemoteEvaluator{sandbox: s}
}

func (e *RemoteEvaluator) run(ctx context.Context, code string, env map[string]any) (any, error) {
	res, err := e.sandbox.Run(ctx, ports.SandboxRequest{
		Code:       code,
		Entrypoint: "evaluate",
		Kwargs:     env,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExpression, err)
	}
	if res.ReturnCode != 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrExpression, strings.TrimSpace(res.Stderr))
	}
	return res.Result, nil
}

// Bool evaluates a boolean condition.
func (e *RemoteEvaluator) Bool(ctx context.Context, expression string, env map[string]any) (bool, error) {
	out, err := e.run(ctx, fmt.Sprintf("def evaluate(variables):\n    return bool(%s)\n", expression), env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: condition %q returned %T, want bool", domain.ErrExpression, expression, out)
	}
	return b, nil
}

// Value evaluates an expression whose result is used as-is.
func (e *RemoteEvaluator) Value(ctx context.Context, expression string, env map[string]any) (any, error) {
	return e.run(ctx, fmt.Sprintf("def evaluate(variables):\n    return %s\n", expression), env)
}

// Variables runs a manipulation snippet. The snippet mutates "variables" in
// place; the updated map is returned for the engine to merge back.
func (e *RemoteEvaluator) Variables(ctx context.Context, code string, env map[string]any) (map[string]any, error) {
	var b strings.Builder
	b.WriteString("def evaluate(variables):\n")
	for _, line := range strings.Split(code, "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("    return variables\n")

	out, err := e.run(ctx, b.String(), env)
	if err != nil {
		return nil, err
	}
	m, ok := vars.Normalize(out).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: manipulation returned %T, want map", domain.ErrExpression, out)
	}
	return m, nil
}
