package domain

// HistoryRecord is one append-only entry of a run's audit trail.
type HistoryRecord struct {
	Type           NodeKind       `json:"type"`
	Name           string         `json:"name"`
	Input          map[string]any `json:"input,omitempty"`
	Output         any            `json:"output,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	ExecutionOrder int            `json:"execution_order"`
}

// TableState is the engine-private bookkeeping of one decision-table node.
// It is reset on every external entry into the node and carried across the
// table's internal Main loop so a match short-circuits remaining groups.
type TableState struct {
	GroupIndex     int    `json:"last_condition_group_index"`
	NextNode       string `json:"next_node,omitempty"`
	ResultNode     string `json:"result_node,omitempty"`
	DefaultNode    string `json:"default_node,omitempty"`
	ExecutionOrder int    `json:"execution_order"`

	// Resolved makes the Main-loop termination condition explicit instead of
	// inferring it from ResultNode being non-empty.
	Resolved bool `json:"resolved"`
}

// ExecutionState is the mutable per-run state shared by all nodes of one
// session. It is owned exclusively by that session's runner goroutine.
type ExecutionState struct {
	Variables map[string]any         `json:"variables"`
	System    map[string]*TableState `json:"system_variables"`
	History   []HistoryRecord        `json:"state_history"`
}

// NewExecutionState seeds a run with the session's initial variables.
func NewExecutionState(vars map[string]any) *ExecutionState {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &ExecutionState{
		Variables: vars,
		System:    make(map[string]*TableState),
	}
}

// ExecutionOrder returns the number of prior history entries for the node,
// i.e. the zero-based index of its next visit.
func (s *ExecutionState) ExecutionOrder(nodeName string) int {
	n := 0
	for _, rec := range s.History {
		if rec.Name == nodeName {
			n++
		}
	}
	return n
}

// Append records a finished node execution.
func (s *ExecutionState) Append(rec HistoryRecord) {
	s.History = append(s.History, rec)
}

// EnterTable resets the table bookkeeping for a fresh external entry,
// preserving the stored execution order across re-entries.
func (s *ExecutionState) EnterTable(nodeName, defaultNode string) *TableState {
	prev, seen := s.System[nodeName]
	ts := &TableState{
		GroupIndex:  -1,
		DefaultNode: defaultNode,
	}
	if seen {
		ts.ExecutionOrder = prev.ExecutionOrder + 1
	}
	s.System[nodeName] = ts
	return ts
}
