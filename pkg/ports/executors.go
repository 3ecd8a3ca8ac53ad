package ports

import "context"

// SandboxRequest describes one isolated code execution.
type SandboxRequest struct {
	Code       string         `json:"code"`
	Entrypoint string         `json:"entrypoint"`
	Libraries  []string       `json:"libraries,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`

	// Globals carries the read-only {variables, state_history} snapshot the
	// engine injects alongside node inputs.
	Globals map[string]any `json:"globals,omitempty"`
}

// SandboxResult mirrors the sandbox executor's response.
type SandboxResult struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Result     any    `json:"result"`
}

// Sandbox runs arbitrary code in isolation.
type Sandbox interface {
	Run(ctx context.Context, req SandboxRequest) (SandboxResult, error)
}

// Evaluator evaluates decision-table conditions, manipulations and
// conditional-edge expressions. Implementations either ship the expression
// to the sandbox (untrusted input, the default) or evaluate in process for
// trusted deployments and tests. Failures wrap domain.ErrExpression.
type Evaluator interface {
	// Bool evaluates a boolean condition against the environment.
	Bool(ctx context.Context, expression string, env map[string]any) (bool, error)

	// Value evaluates an expression whose result is used as-is (dynamic
	// conditional-edge targets).
	Value(ctx context.Context, expression string, env map[string]any) (any, error)

	// Variables runs a manipulation and returns the variable map to merge
	// back into the store.
	Variables(ctx context.Context, code string, env map[string]any) (map[string]any, error)
}

// CrewHooks are the per-run callbacks injected into a crew kickoff, bound
// to {session_id, node_name, crew_id, execution_order} by the caller.
type CrewHooks struct {
	OnAgentStep func(ctx context.Context, payload map[string]any)
	OnTaskDone  func(ctx context.Context, payload map[string]any)

	// WaitForUser blocks until a matching user_input message arrives and
	// returns the (possibly knowledge-augmented) text.
	WaitForUser func(ctx context.Context, prompt string) (string, error)
}

// CrewRequest describes one crew kickoff.
type CrewRequest struct {
	CrewID     string         `json:"crew_id"`
	Definition map[string]any `json:"definition"`
	Input      map[string]any `json:"input"`
	Context    map[string]any `json:"context,omitempty"`
}

// CrewResult carries either structured output or raw text.
type CrewResult struct {
	Raw        string         `json:"raw,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
}

// CrewExecutor kicks off an agent crew as an opaque async unit of work.
type CrewExecutor interface {
	Kickoff(ctx context.Context, req CrewRequest, hooks CrewHooks) (CrewResult, error)
}

// LLMRequest is a single completion call.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Query        string
	Temperature  float64
	MaxTokens    int
}

// LLMClient completes one user message.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (string, error)
}

// KnowledgeSearcher is the optional wait-for-user augmentation lookup.
type KnowledgeSearcher interface {
	Search(ctx context.Context, collectionID, query string, limit int, distanceThreshold float64) ([]string, error)
}
