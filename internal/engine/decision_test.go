package engine_test

import (
	"context"
	"testing"

	"github.com/avencia/graphrun/internal/adapters/sandbox"
	"github.com/avencia/graphrun/internal/engine"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableGraph wraps a single decision table between a seed node and two sinks.
func tableGraph(t *testing.T, eval *countingEvaluator, table domain.DecisionTableSpec) (*engine.CompiledGraph, *fakeSandbox) {
	t.Helper()
	sb := &fakeSandbox{results: map[string]ports.SandboxResult{
		"a":      {Result: map[string]any{"a_ran": true}},
		"b":      {Result: map[string]any{"b_ran": true}},
		"rescue": {Result: map[string]any{"rescued": true}},
	}}

	builder := engine.NewBuilder(engine.Deps{Sandbox: sb, Evaluator: eval})
	g, err := builder.Build(&domain.Graph{
		Name:       "table",
		EntryPoint: table.NodeName,
		PythonNodes: []domain.PythonNodeSpec{
			{NodeBase: domain.NodeBase{NodeName: "A"}, Entrypoint: "a"},
			{NodeBase: domain.NodeBase{NodeName: "B"}, Entrypoint: "b"},
			{NodeBase: domain.NodeBase{NodeName: "rescue"}, Entrypoint: "rescue"},
		},
		DecisionTables: []domain.DecisionTableSpec{table},
	})
	require.NoError(t, err)
	return g, sb
}

func TestDecisionTable_FirstMatchWins(t *testing.T) {
	eval := &countingEvaluator{Evaluator: sandbox.NewLocal()}
	table := domain.DecisionTableSpec{
		NodeBase: domain.NodeBase{NodeName: "route"},
		Groups: []domain.ConditionGroup{
			{GroupName: "g1", GroupType: domain.GroupTypeSimple, Conditions: []string{"variables.x == 1"}, NextNode: "A"},
			{GroupName: "g2", GroupType: domain.GroupTypeSimple, Conditions: []string{"variables.x == 2"}, NextNode: "B"},
		},
		DefaultNextNode: domain.EndNode,
	}
	g, sb := tableGraph(t, eval, table)

	st := domain.NewExecutionState(map[string]any{"x": 1})
	msgs, _, err := drain(g.Run(context.Background(), st))
	require.NoError(t, err)

	assert.Equal(t, "A", st.System["route"].ResultNode)
	assert.Equal(t, 1, eval.boolCalls, "second group must not be evaluated")
	assert.Equal(t, true, sb.calls >= 1) // routed to node A

	results := messagesOf(msgs, domain.MessageGroupResult)
	require.Len(t, results, 1)
	assert.Equal(t, "g1", results[0].Data.GroupName)
	assert.True(t, *results[0].Data.Result)
}

func TestDecisionTable_FallsToDefault(t *testing.T) {
	eval := &countingEvaluator{Evaluator: sandbox.NewLocal()}
	table := domain.DecisionTableSpec{
		NodeBase: domain.NodeBase{NodeName: "route"},
		Groups: []domain.ConditionGroup{
			{GroupName: "g1", GroupType: domain.GroupTypeSimple, Conditions: []string{"variables.x == 1"}, NextNode: "A"},
			{GroupName: "g2", GroupType: domain.GroupTypeComplex, Expression: "variables.x == 2", NextNode: "B"},
		},
		DefaultNextNode: "B",
	}
	g, _ := tableGraph(t, eval, table)

	st := domain.NewExecutionState(map[string]any{"x": 3})
	_, _, err := drain(g.Run(context.Background(), st))
	require.NoError(t, err)

	assert.Equal(t, "B", st.System["route"].ResultNode)
	assert.Equal(t, 2, eval.boolCalls)
	assert.Equal(t, true, st.Variables["b_ran"] != nil)
}

func TestDecisionTable_SimpleGroupShortCircuitsConditions(t *testing.T) {
	eval := &countingEvaluator{Evaluator: sandbox.NewLocal()}
	table := domain.DecisionTableSpec{
		NodeBase: domain.NodeBase{NodeName: "route"},
		Groups: []domain.ConditionGroup{{
			GroupName:  "g1",
			GroupType:  domain.GroupTypeSimple,
			Conditions: []string{"variables.x == 99", "variables.x == 1"},
			NextNode:   "A",
		}},
		DefaultNextNode: domain.EndNode,
	}
	g, _ := tableGraph(t, eval, table)

	st := domain.NewExecutionState(map[string]any{"x": 1})
	_, _, err := drain(g.Run(context.Background(), st))
	require.NoError(t, err)

	assert.Equal(t, 1, eval.boolCalls, "AND must short-circuit on the first false condition")
	assert.Equal(t, domain.EndNode, st.System["route"].ResultNode)
}

func TestDecisionTable_ErrorRoutesToErrorNode(t *testing.T) {
	eval := &countingEvaluator{Evaluator: sandbox.NewLocal()}
	table := domain.DecisionTableSpec{
		NodeBase: domain.NodeBase{NodeName: "route"},
		Groups: []domain.ConditionGroup{
			{GroupName: "broken", GroupType: domain.GroupTypeSimple, Conditions: []string{"variables.x =="}, NextNode: "A"},
			{GroupName: "never", GroupType: domain.GroupTypeSimple, Conditions: []string{"variables.x == 1"}, NextNode: "B"},
		},
		DefaultNextNode: domain.EndNode,
		NextErrorNode:   "rescue",
	}
	g, _ := tableGraph(t, eval, table)

	st := domain.NewExecutionState(map[string]any{"x": 1})
	msgs, _, err := drain(g.Run(context.Background(), st))
	require.NoError(t, err, "expression errors recover via the error node, not a run failure")

	assert.Equal(t, "rescue", st.System["route"].ResultNode)
	assert.Equal(t, 1, eval.boolCalls, "no group after the failing one is evaluated")
	assert.Equal(t, true, st.Variables["rescued"] != nil)

	errs := messagesOf(msgs, domain.MessageError)
	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].Data.GroupName)

	// The table emits no Finish on the error path.
	for _, m := range messagesOf(msgs, domain.MessageFinish) {
		assert.NotEqual(t, "route", m.Name)
	}
}

func TestDecisionTable_ManipulationMergesVariables(t *testing.T) {
	eval := &countingEvaluator{Evaluator: sandbox.NewLocal()}
	table := domain.DecisionTableSpec{
		NodeBase: domain.NodeBase{NodeName: "route"},
		Groups: []domain.ConditionGroup{{
			GroupName:    "g1",
			GroupType:    domain.GroupTypeSimple,
			Conditions:   []string{"variables.x == 1"},
			Manipulation: `{"x": 1, "tagged": true}`,
			NextNode:     domain.EndNode,
		}},
		DefaultNextNode: domain.EndNode,
	}
	g, _ := tableGraph(t, eval, table)

	st := domain.NewExecutionState(map[string]any{"x": 1})
	msgs, _, err := drain(g.Run(context.Background(), st))
	require.NoError(t, err)

	assert.Equal(t, true, st.Variables["tagged"])
	manips := messagesOf(msgs, domain.MessageManipulation)
	require.Len(t, manips, 1)
	assert.Equal(t, true, manips[0].Data.Variables["tagged"])
}

func TestDecisionTable_StartCarriesVariablesSnapshot(t *testing.T) {
	eval := &countingEvaluator{Evaluator: sandbox.NewLocal()}
	table := domain.DecisionTableSpec{
		NodeBase:        domain.NodeBase{NodeName: "route"},
		DefaultNextNode: domain.EndNode,
	}
	g, _ := tableGraph(t, eval, table)

	st := domain.NewExecutionState(map[string]any{"x": 7})
	msgs, _, err := drain(g.Run(context.Background(), st))
	require.NoError(t, err)

	starts := messagesOf(msgs, domain.MessageStart)
	require.Len(t, starts, 1)
	assert.Equal(t, 7, starts[0].Data.Variables["x"])
}
