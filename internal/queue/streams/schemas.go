package streams

import "fmt"

// Definition is one payload schema known to the queue.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventJobStep,
		Version:   StepVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "expected_iteration", "trigger"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "expected_iteration": {"type": "integer", "minimum": 0},
    "trigger": {"type": "string", "enum": ["create", "continue", "schedule", "webhook", "manual"]}
  },
  "additionalProperties": false
}`),
	},
}

func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads every built-in payload schema into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry with the base schemas loaded.
func NewDefaultRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
