package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func decisionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"stay":       map[string]any{"type": "boolean"},
			"confidence": confidenceProp(),
		},
		"required": []string{"stay"},
	}
}

func rekapSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_rekap":   map[string]any{"type": "boolean"},
			"confidence": confidenceProp(),
		},
		"required": []string{"is_rekap"},
	}
}

func cornerMarkerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":    []string{"string", "null"},
				"pattern": `^\s*(?i:alpha|beta)\s*$`,
			},
			// counts below 1 read as a plain marker
			"x": map[string]any{"type": []string{"integer", "null"}},
		},
		"required": []string{"tag"},
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}

// schemaSet holds the compiled response schemas, keyed by operation.
type schemaSet map[string]*jsonschema.Schema

func compileSchemas() (schemaSet, error) {
	set := schemaSet{}
	for op, m := range map[string]map[string]any{
		OpClassifyAttachment: decisionSchema(),
		OpClassifyRekap:      rekapSchema(),
		OpReadCornerMarker:   cornerMarkerSchema(),
	} {
		s, err := compileSchema(op, m)
		if err != nil {
			return nil, err
		}
		set[op] = s
	}
	return set, nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}
