package domain

// NodeKind identifies the execution behavior of a node.
type NodeKind string

const (
	NodeKindCrew          NodeKind = "crew"
	NodeKindPython        NodeKind = "python"
	NodeKindLLM           NodeKind = "llm"
	NodeKindDecisionTable NodeKind = "decision_table"
)

// EndNode is the reserved target name that terminates a run.
const EndNode = "end"

// Graph is the immutable definition of a session workflow.
// It is produced once per intake message and consumed by the builder.
type Graph struct {
	Name             string              `json:"name" mapstructure:"name"`
	EntryPoint       string              `json:"entry_point" mapstructure:"entry_point"`
	CrewNodes        []CrewNodeSpec      `json:"crew_nodes" mapstructure:"crew_nodes"`
	PythonNodes      []PythonNodeSpec    `json:"python_nodes" mapstructure:"python_nodes"`
	LLMNodes         []LLMNodeSpec       `json:"llm_nodes" mapstructure:"llm_nodes"`
	DecisionTables   []DecisionTableSpec `json:"decision_table_nodes" mapstructure:"decision_table_nodes"`
	Edges            []Edge              `json:"edges" mapstructure:"edges"`
	ConditionalEdges []ConditionalEdge   `json:"conditional_edges" mapstructure:"conditional_edges"`
}

// NodeBase carries the fields shared by every node kind.
type NodeBase struct {
	NodeName string `json:"node_name" mapstructure:"node_name"`

	// InputMap maps an input key to a dot-path into the variable store,
	// e.g. {"query": "variables.user.question"}.
	InputMap map[string]string `json:"input_map" mapstructure:"input_map"`

	// OutputVariablePath is the dot-path the node output is written to.
	// Empty means the output is merged into the top-level store.
	OutputVariablePath string `json:"output_variable_path" mapstructure:"output_variable_path"`
}

// CrewNodeSpec delegates execution to the external crew executor.
type CrewNodeSpec struct {
	NodeBase `mapstructure:",squash"`

	CrewID     string         `json:"crew_id" mapstructure:"crew_id"`
	Definition map[string]any `json:"definition" mapstructure:"definition"`

	// KnowledgeCollection, when set, augments wait-for-user replies with a
	// knowledge-search lookup before resuming the crew.
	KnowledgeCollection string `json:"knowledge_collection,omitempty" mapstructure:"knowledge_collection"`
}

// PythonNodeSpec runs arbitrary code in the external sandbox.
type PythonNodeSpec struct {
	NodeBase `mapstructure:",squash"`

	Code       string   `json:"code" mapstructure:"code"`
	Entrypoint string   `json:"entrypoint" mapstructure:"entrypoint"`
	Libraries  []string `json:"libraries,omitempty" mapstructure:"libraries"`
}

// LLMNodeSpec sends a single completion request built from the resolved
// "query" input plus the fixed request parameters below.
type LLMNodeSpec struct {
	NodeBase `mapstructure:",squash"`

	Model        string  `json:"model" mapstructure:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// GroupType distinguishes the two condition-group shapes.
type GroupType string

const (
	GroupTypeSimple  GroupType = "simple"
	GroupTypeComplex GroupType = "complex"
)

// ConditionGroup is one rule in a decision table. Simple groups AND their
// Conditions; complex groups evaluate the single Expression. A matching
// group may run a Manipulation whose returned map is merged into the store.
type ConditionGroup struct {
	GroupName    string    `json:"group_name" mapstructure:"group_name"`
	GroupType    GroupType `json:"group_type" mapstructure:"group_type"`
	Conditions   []string  `json:"conditions,omitempty" mapstructure:"conditions"`
	Expression   string    `json:"expression,omitempty" mapstructure:"expression"`
	Manipulation string    `json:"manipulation,omitempty" mapstructure:"manipulation"`
	NextNode     string    `json:"next_node" mapstructure:"next_node"`
}

// DecisionTableSpec routes to the first matching group's next node.
// Group order is significant: evaluation is strictly sequential and
// first-match-wins.
type DecisionTableSpec struct {
	NodeBase `mapstructure:",squash"`

	Groups          []ConditionGroup `json:"condition_groups" mapstructure:"condition_groups"`
	DefaultNextNode string           `json:"default_next_node" mapstructure:"default_next_node"`
	NextErrorNode   string           `json:"next_error_node" mapstructure:"next_error_node"`
}

// Edge is an unconditional transition between two nodes.
type Edge struct {
	StartKey string `json:"start_key" mapstructure:"start_key"`
	EndKey   string `json:"end_key" mapstructure:"end_key"`
}

// ConditionalEdge routes from Source either to the fixed Then target when
// Condition evaluates true, or to the node named by the Condition's value
// when Then is empty. At most one conditional edge per source.
type ConditionalEdge struct {
	Source    string            `json:"source" mapstructure:"source"`
	Condition string            `json:"condition" mapstructure:"condition"`
	Then      string            `json:"then,omitempty" mapstructure:"then"`
	InputMap  map[string]string `json:"input_map,omitempty" mapstructure:"input_map"`
}
