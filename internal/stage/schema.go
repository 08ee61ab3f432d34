package stage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// commonParamSchema constrains the keys every stage understands. Stage
// schemas sit next to it and leave unknown keys alone.
var commonParamSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"page_size":            map[string]any{"type": "integer", "minimum": 1, "maximum": 1000},
		"max_items":            map[string]any{"type": "integer", "minimum": 1, "maximum": 100000},
		"time_budget_seconds":  map[string]any{"type": "integer", "minimum": 1, "maximum": 3600},
		"concurrency":          map[string]any{"type": "integer", "minimum": 1, "maximum": 64},
		"inter_batch_delay_ms": map[string]any{"type": "integer", "minimum": 0, "maximum": 60000},
		"platform":             map[string]any{"type": "string", "minLength": 1},
		"since":                map[string]any{"type": "string", "format": "date-time"},
		"min_score":            map[string]any{"type": "integer"},
		"auto_continue":        map[string]any{"type": "boolean"},
		"handoff":              map[string]any{"type": "boolean"},
		"upstream": map[string]any{
			"type":     "object",
			"required": []any{"job_id", "stage"},
			"properties": map[string]any{
				"job_id":           map[string]any{"type": "string"},
				"stage":            map[string]any{"type": "string"},
				"produced_records": map[string]any{"type": "integer", "minimum": 0},
			},
		},
	},
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateDocument(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
