package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nimbusdata/syncengine/internal/model"
)

type compiledValidators struct {
	mu         sync.RWMutex
	byModel    map[string]*jsonschema.Schema
}

// CompileAttributeSchemas compiles every model's AttributeDescriptor.Schema
// documents into one combined per-model JSON Schema object with each
// attribute as a property, caching the result on s. Call after Validate
// succeeds; a compile failure is a SchemaError, not a panic.
func (s *Schema) CompileAttributeSchemas() error {
	compiled := &compiledValidators{byModel: make(map[string]*jsonschema.Schema)}
	for modelType, m := range s.Models {
		properties := map[string]any{}
		for attrName, descriptor := range m.Attributes {
			if descriptor.Schema == nil {
				continue
			}
			properties[attrName] = descriptor.Schema
		}
		if len(properties) == 0 {
			continue
		}
		doc := map[string]any{
			"$schema":    "https://json-schema.org/draft/2020-12/schema",
			"type":       "object",
			"properties": properties,
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return &model.SchemaError{Model: modelType, Reason: fmt.Sprintf("marshal attribute schema: %v", err)}
		}
		decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return &model.SchemaError{Model: modelType, Reason: fmt.Sprintf("decode attribute schema: %v", err)}
		}
		compiler := jsonschema.NewCompiler()
		resourceName := modelType + ".json"
		if err := compiler.AddResource(resourceName, decoded); err != nil {
			return &model.SchemaError{Model: modelType, Reason: fmt.Sprintf("add schema resource: %v", err)}
		}
		sch, err := compiler.Compile(resourceName)
		if err != nil {
			return &model.SchemaError{Model: modelType, Reason: fmt.Sprintf("compile attribute schema: %v", err)}
		}
		compiled.byModel[modelType] = sch
	}
	s.compiled = compiled
	return nil
}

// ValidateAttributes checks attrs against modelType's compiled schema, if
// any was registered. A nil/absent schema means "no constraint": the call
// always succeeds.
func (s *Schema) ValidateAttributes(modelType string, attrs map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	s.compiled.mu.RLock()
	sch, ok := s.compiled.byModel[modelType]
	s.compiled.mu.RUnlock()
	if !ok {
		return nil
	}
	// jsonschema validates decoded JSON values (map[string]any with
	// float64/string/bool/nil leaves), so attrs is always round-tripped
	// through JSON first; values constructed in Go with other numeric
	// types come out in that shape.
	normalized, err := normalizeForValidation(attrs)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if err := sch.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func normalizeForValidation(attrs map[string]any) (any, error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
