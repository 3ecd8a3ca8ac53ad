package schema_test

import (
	"testing"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const intakePayload = `{
	"session_id": "s-1",
	"time_to_live": 300,
	"variables": {"x": 1},
	"graph": {
		"name": "demo",
		"entry_point": "fetch",
		"python_nodes": [
			{"node_name": "fetch", "input_map": {"q": "variables.x"}, "output_variable_path": "variables.out", "code": "def main(q): return q", "entrypoint": "main"}
		],
		"decision_table_nodes": [
			{"node_name": "route", "condition_groups": [
				{"group_name": "g1", "group_type": "simple", "conditions": ["variables.x == 1"], "next_node": "fetch"}
			], "default_next_node": "end"}
		],
		"edges": [{"start_key": "fetch", "end_key": "route"}]
	}
}`

func TestDecode(t *testing.T) {
	ss, err := schema.Decode([]byte(intakePayload))
	require.NoError(t, err)

	assert.Equal(t, "s-1", ss.SessionID)
	assert.EqualValues(t, 300, ss.TimeToLive)
	assert.Equal(t, "demo", ss.Graph.Name)
	assert.Equal(t, "fetch", ss.Graph.EntryPoint)
	require.Len(t, ss.Graph.PythonNodes, 1)
	assert.Equal(t, "variables.x", ss.Graph.PythonNodes[0].InputMap["q"])
	require.Len(t, ss.Graph.DecisionTables, 1)
	assert.Equal(t, domain.GroupTypeSimple, ss.Graph.DecisionTables[0].Groups[0].GroupType)
	assert.NotNil(t, ss.Raw["graph"])
}

func TestDecode_MissingSessionID(t *testing.T) {
	_, err := schema.Decode([]byte(`{"graph": {"name": "g"}}`))
	assert.ErrorIs(t, err, domain.ErrGraphDefinition)
}

func TestValidate_DanglingReference(t *testing.T) {
	g := &domain.Graph{
		Name:       "g",
		EntryPoint: "a",
		PythonNodes: []domain.PythonNodeSpec{
			{NodeBase: domain.NodeBase{NodeName: "a"}},
		},
		Edges: []domain.Edge{{StartKey: "a", EndKey: "ghost"}},
	}
	err := schema.Validate(g)
	assert.ErrorIs(t, err, domain.ErrGraphDefinition)
}

func TestValidate_DuplicateNames(t *testing.T) {
	g := &domain.Graph{
		Name:       "g",
		EntryPoint: "a",
		PythonNodes: []domain.PythonNodeSpec{
			{NodeBase: domain.NodeBase{NodeName: "a"}},
		},
		LLMNodes: []domain.LLMNodeSpec{
			{NodeBase: domain.NodeBase{NodeName: "a"}},
		},
	}
	err := schema.Validate(g)
	assert.ErrorIs(t, err, domain.ErrGraphDefinition)
}

func TestValidate_MultipleConditionalEdges(t *testing.T) {
	g := &domain.Graph{
		Name:       "g",
		EntryPoint: "a",
		PythonNodes: []domain.PythonNodeSpec{
			{NodeBase: domain.NodeBase{NodeName: "a"}},
			{NodeBase: domain.NodeBase{NodeName: "b"}},
		},
		ConditionalEdges: []domain.ConditionalEdge{
			{Source: "a", Condition: "true", Then: "b"},
			{Source: "a", Condition: "false", Then: "b"},
		},
	}
	err := schema.Validate(g)
	assert.ErrorIs(t, err, domain.ErrGraphDefinition)
}

func TestValidate_EndTargetAllowed(t *testing.T) {
	g := &domain.Graph{
		Name:       "g",
		EntryPoint: "a",
		PythonNodes: []domain.PythonNodeSpec{
			{NodeBase: domain.NodeBase{NodeName: "a"}},
		},
		Edges: []domain.Edge{{StartKey: "a", EndKey: domain.EndNode}},
	}
	assert.NoError(t, schema.Validate(g))
}
