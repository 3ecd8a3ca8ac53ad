package engine

import (
	"context"
	"fmt"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/vars"
)

// decisionNode runs the two-phase decision-table state machine. Groups are
// evaluated strictly in declaration order, first match wins, and any
// expression failure routes to the table's error node without aborting the
// run. The node's output is the chosen target node name.
type decisionNode struct {
	spec domain.DecisionTableSpec
	deps Deps
}

func (n *decisionNode) name() string                { return n.spec.NodeName }
func (n *decisionNode) kind() domain.NodeKind       { return domain.NodeKindDecisionTable }
func (n *decisionNode) inputMap() map[string]string { return n.spec.InputMap }
func (n *decisionNode) outputPath() string          { return "" }

func (n *decisionNode) execute(ctx context.Context, st *domain.ExecutionState, emit EmitFunc, order int, _ map[string]any) (any, error) {
	if n.deps.Evaluator == nil {
		return nil, fmt.Errorf("no expression evaluator configured")
	}

	// Enter: fresh bookkeeping on every external entry into the node.
	ts := st.EnterTable(n.spec.NodeName, n.spec.DefaultNextNode)
	store := vars.New(st.Variables)

	for {
		// Main: a match from an earlier pass short-circuits the rest.
		if ts.Resolved {
			break
		}
		ts.GroupIndex++
		if ts.GroupIndex >= len(n.spec.Groups) {
			ts.ResultNode = ts.DefaultNode
			ts.Resolved = true
			break
		}
		group := n.spec.Groups[ts.GroupIndex]
		ts.NextNode = group.GroupName

		matched, err := n.evalGroup(ctx, group, store)
		if err != nil {
			ts.ResultNode = n.spec.NextErrorNode
			ts.Resolved = true
			emit(n.spec.NodeName, order, domain.MessageData{
				Type:      domain.MessageError,
				GroupName: group.GroupName,
				Error:     err.Error(),
			})
			return ts.ResultNode, nil
		}

		emit(n.spec.NodeName, order, domain.MessageData{
			Type:      domain.MessageGroupResult,
			GroupName: group.GroupName,
			Result:    domain.BoolPtr(matched),
		})

		if !matched {
			continue
		}
		if group.Manipulation != "" {
			updated, err := n.deps.Evaluator.Variables(ctx, group.Manipulation, n.env(store))
			if err != nil {
				ts.ResultNode = n.spec.NextErrorNode
				ts.Resolved = true
				emit(n.spec.NodeName, order, domain.MessageData{
					Type:      domain.MessageError,
					GroupName: group.GroupName,
					Error:     err.Error(),
				})
				return ts.ResultNode, nil
			}
			if err := store.Apply("", vars.Normalize(updated)); err != nil {
				return nil, fmt.Errorf("manipulation of group %q: %w", group.GroupName, err)
			}
			emit(n.spec.NodeName, order, domain.MessageData{
				Type:      domain.MessageManipulation,
				GroupName: group.GroupName,
				Variables: store.Snapshot(),
			})
		}
		ts.ResultNode = group.NextNode
		ts.Resolved = true
	}

	emit(n.spec.NodeName, order, domain.MessageData{
		Type:   domain.MessageFinish,
		Output: ts.ResultNode,
	})
	return ts.ResultNode, nil
}

// evalGroup evaluates one condition group: simple groups AND their
// conditions with short-circuit on the first false, complex groups evaluate
// the single expression.
func (n *decisionNode) evalGroup(ctx context.Context, group domain.ConditionGroup, store *vars.Store) (bool, error) {
	env := n.env(store)
	if group.GroupType == domain.GroupTypeComplex {
		return n.deps.Evaluator.Bool(ctx, group.Expression, env)
	}
	for _, cond := range group.Conditions {
		ok, err := n.deps.Evaluator.Bool(ctx, cond, env)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (n *decisionNode) env(store *vars.Store) map[string]any {
	return map[string]any{vars.RootToken: store.Snapshot()}
}
