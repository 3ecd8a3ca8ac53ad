// Package ports defines the interfaces between the orchestration engine and
// its collaborators (persistence, transport, sandbox, crew, LLM, knowledge).
// Concrete adapters live under internal/adapters.
package ports
