// Package schema decodes and validates the declarative session/graph
// definitions arriving on the intake channel.
package schema

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mitchellh/mapstructure"

	"github.com/avencia/graphrun/pkg/domain"
)

// SessionSchema is the denormalized intake message: one session request and
// the full graph definition it should run.
type SessionSchema struct {
	SessionID  string         `json:"session_id" mapstructure:"session_id"`
	TimeToLive int64          `json:"time_to_live" mapstructure:"time_to_live"` // seconds, 0 disables
	Variables  map[string]any `json:"variables" mapstructure:"variables"`
	Graph      domain.Graph   `json:"graph" mapstructure:"graph"`

	// Raw preserves the decoded payload for the session's graph_schema
	// snapshot (reproducibility).
	Raw map[string]any `json:"-" mapstructure:"-"`
}

// Decode parses an intake payload and validates the embedded graph.
func Decode(payload []byte) (*SessionSchema, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse session schema: %w", err)
	}

	var out SessionSchema
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build schema decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode session schema: %w", err)
	}
	out.Raw = raw

	if out.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrGraphDefinition)
	}
	if err := Validate(&out.Graph); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate fails fast on dangling node references and duplicate names, before
// any session is started.
func Validate(g *domain.Graph) error {
	names := make(map[string]bool)
	register := func(name string) error {
		if name == "" {
			return fmt.Errorf("%w: node with empty node_name", domain.ErrGraphDefinition)
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate node_name %q", domain.ErrGraphDefinition, name)
		}
		names[name] = true
		return nil
	}

	for _, n := range g.CrewNodes {
		if err := register(n.NodeName); err != nil {
			return err
		}
	}
	for _, n := range g.PythonNodes {
		if err := register(n.NodeName); err != nil {
			return err
		}
	}
	for _, n := range g.LLMNodes {
		if err := register(n.NodeName); err != nil {
			return err
		}
	}
	for _, n := range g.DecisionTables {
		if err := register(n.NodeName); err != nil {
			return err
		}
	}

	// A target may be a node, the reserved end marker, or empty (terminate).
	target := func(ctx, name string) error {
		if name == "" || name == domain.EndNode || names[name] {
			return nil
		}
		return fmt.Errorf("%w: %s references unknown node %q", domain.ErrGraphDefinition, ctx, name)
	}

	if g.EntryPoint == "" || !names[g.EntryPoint] {
		return fmt.Errorf("%w: entry point %q does not exist", domain.ErrGraphDefinition, g.EntryPoint)
	}

	for _, e := range g.Edges {
		if !names[e.StartKey] {
			return fmt.Errorf("%w: edge starts at unknown node %q", domain.ErrGraphDefinition, e.StartKey)
		}
		if err := target("edge from "+e.StartKey, e.EndKey); err != nil {
			return err
		}
	}

	sources := make(map[string]bool)
	for _, ce := range g.ConditionalEdges {
		if !names[ce.Source] {
			return fmt.Errorf("%w: conditional edge from unknown node %q", domain.ErrGraphDefinition, ce.Source)
		}
		if sources[ce.Source] {
			return fmt.Errorf("%w: multiple conditional edges from %q", domain.ErrGraphDefinition, ce.Source)
		}
		sources[ce.Source] = true
		if err := target("conditional edge from "+ce.Source, ce.Then); err != nil {
			return err
		}
	}

	for _, dt := range g.DecisionTables {
		if err := target(dt.NodeName+".default_next_node", dt.DefaultNextNode); err != nil {
			return err
		}
		if err := target(dt.NodeName+".next_error_node", dt.NextErrorNode); err != nil {
			return err
		}
		for _, grp := range dt.Groups {
			if grp.GroupType != domain.GroupTypeSimple && grp.GroupType != domain.GroupTypeComplex {
				return fmt.Errorf("%w: %s.%s: unknown group_type %q", domain.ErrGraphDefinition, dt.NodeName, grp.GroupName, grp.GroupType)
			}
			if err := target(dt.NodeName+"."+grp.GroupName, grp.NextNode); err != nil {
				return err
			}
		}
	}
	return nil
}
