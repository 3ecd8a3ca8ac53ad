package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/vars"
)

// Local evaluates expressions in process with expr-lang. It is intended for
// trusted deployments and tests; untrusted expressions belong in the remote
// sandbox. Compiled programs are cached per expression.
type Local struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewLocal creates an in-process evaluator.
func NewLocal() *Local {
	return &Local{programs: make(map[string]*vm.Program)}
}

func (l *Local) compile(expression string) (*vm.Program, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.programs[expression]; ok {
		return p, nil
	}
	p, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExpression, err)
	}
	l.programs[expression] = p
	return p, nil
}

func (l *Local) eval(expression string, env map[string]any) (any, error) {
	p, err := l.compile(expression)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExpression, err)
	}
	return out, nil
}

// Bool evaluates a boolean condition.
func (l *Local) Bool(_ context.Context, expression string, env map[string]any) (bool, error) {
	out, err := l.eval(expression, env)
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
func (l *Local) Value(_ context.Context, expression string, env map[string]any) (any, error) {
	return l.eval(expression, env)
}

// Variables evaluates a manipulation expression that must produce a map.
func (l *Local) Variables(_ context.Context, code string, env map[string]any) (map[string]any, error) {
	out, err := l.eval(code, env)
	if err != nil {
		return nil, err
	}
	m, ok := vars.Normalize(out).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: manipulation returned %T, want map", domain.ErrExpression, out)
	}
	return m, nil
}
