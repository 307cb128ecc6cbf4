// Package schema holds model/relationship metadata (Schema) and the
// bidirectional local-id/remote-key mapping (KeyMap) every source
// consults before translating between local records and remote identity.
package schema

import (
	"fmt"
	"sort"

	"github.com/nimbusdata/syncengine/internal/model"
)

type RelationshipKind string

const (
	HasOne  RelationshipKind = "hasOne"
	HasMany RelationshipKind = "hasMany"
)

type DependentAction string

const (
	DependentNone   DependentAction = ""
	DependentRemove DependentAction = "remove"
)

// RelationshipDescriptor describes one relationship slot on a model.
type RelationshipDescriptor struct {
	Kind      RelationshipKind
	Model     string
	Inverse   string
	ActsAsSet bool
	Dependent DependentAction
}

// AttributeDescriptor describes one attribute slot on a model. Schema is
// the JSON Schema document (as a decoded map) compiled lazily by
// CompileAttributeSchemas; nil means "no validation for this attribute".
type AttributeDescriptor struct {
	Schema map[string]any
}

// ModelSchema is one model's full descriptor set.
type ModelSchema struct {
	Attributes    map[string]AttributeDescriptor
	Relationships map[string]RelationshipDescriptor
}

// Schema is the whole application's model/relationship metadata.
type Schema struct {
	Models map[string]ModelSchema

	compiled *compiledValidators
}

func New(models map[string]ModelSchema) *Schema {
	return &Schema{Models: models}
}

// Validate checks the inverse-relationship consistency invariant from the
// data model: if relationship R on model M declares inverse R' on model
// M', M' must exist and declare R' whose inverse is R and whose related
// model is M. Cardinalities are not compared: any hasOne/hasMany pairing
// is accepted.
func (s *Schema) Validate() error {
	names := make([]string, 0, len(s.Models))
	for name := range s.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, modelName := range names {
		m := s.Models[modelName]
		relNames := make([]string, 0, len(m.Relationships))
		for name := range m.Relationships {
			relNames = append(relNames, name)
		}
		sort.Strings(relNames)
		for _, relName := range relNames {
			rel := m.Relationships[relName]
			if rel.Inverse == "" {
				continue
			}
			other, ok := s.Models[rel.Model]
			if !ok {
				return &model.SchemaError{Model: modelName, Relationship: relName,
					Reason: fmt.Sprintf("related model %q is not defined", rel.Model)}
			}
			inverseRel, ok := other.Relationships[rel.Inverse]
			if !ok {
				return &model.SchemaError{Model: modelName, Relationship: relName,
					Reason: fmt.Sprintf("inverse relationship %q.%q is not defined", rel.Model, rel.Inverse)}
			}
			if inverseRel.Inverse != relName || inverseRel.Model != modelName {
				return &model.SchemaError{Model: modelName, Relationship: relName,
					Reason: fmt.Sprintf("inverse relationship %q.%q does not point back to %q.%q", rel.Model, rel.Inverse, modelName, relName)}
			}
		}
	}
	return nil
}

func (s *Schema) RelationshipDescriptor(modelType, relationship string) (RelationshipDescriptor, bool) {
	m, ok := s.Models[modelType]
	if !ok {
		return RelationshipDescriptor{}, false
	}
	rel, ok := m.Relationships[relationship]
	return rel, ok
}
