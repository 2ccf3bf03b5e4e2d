package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/durableflow/kernel/contracts"
)

// SchemaValidated wraps an Agent so payloads are checked against a declared
// JSON Schema before Execute runs. The core itself imposes no schema on step
// payloads (they stay opaque at the Engine), but individual Agent
// implementations are free to demand one at their own boundary; this wrapper
// is how a Coordinator opts an Agent into that.
type SchemaValidated struct {
	inner   Agent
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidated compiles schemasByKind (raw JSON Schema documents keyed
// by work kind) and returns an Agent that rejects payloads failing the
// schema registered for the kind being executed. Kinds with no registered
// schema pass through unchecked.
func NewSchemaValidated(inner Agent, schemasByKind map[string]json.RawMessage) (*SchemaValidated, error) {
	compiled := make(map[string]*jsonschema.Schema, len(schemasByKind))
	for kind, raw := range schemasByKind {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("agent: unmarshal schema for kind %q: %w", kind, err)
		}
		resourceID := "kind://" + kind
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceID, doc); err != nil {
			return nil, fmt.Errorf("agent: add schema resource for kind %q: %w", kind, err)
		}
		schema, err := c.Compile(resourceID)
		if err != nil {
			return nil, fmt.Errorf("agent: compile schema for kind %q: %w", kind, err)
		}
		compiled[kind] = schema
	}
	return &SchemaValidated{inner: inner, schemas: compiled}, nil
}

func (s *SchemaValidated) Describe() Descriptor { return s.inner.Describe() }

func (s *SchemaValidated) Execute(ctx context.Context, workKind string, payload any, execCtx Context) (contracts.AgentResponse, error) {
	if schema, ok := s.schemas[workKind]; ok {
		if err := schema.Validate(payload); err != nil {
			return contracts.AgentResponse{}, fmt.Errorf("agent: payload for kind %q failed schema validation: %w", workKind, err)
		}
	}
	return s.inner.Execute(ctx, workKind, payload, execCtx)
}
