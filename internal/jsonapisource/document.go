package jsonapisource

import (
	"encoding/json"

	"github.com/nimbusdata/syncengine/internal/model"
)

// ResourceIdentifier is the {type, id} pair JSON:API uses wherever a
// relationship references a resource without embedding it.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r ResourceIdentifier) toKey() model.Key {
	return model.Key{Type: singularize(r.Type), ID: r.ID}
}

// RelationshipObject holds either a single identifier (hasOne), a list
// (hasMany), or null, matching JSON:API's relationship object shape.
type RelationshipObject struct {
	Data json.RawMessage `json:"data"`
}

// ResourceObject is one JSON:API resource: a record's wire form.
type ResourceObject struct {
	Type          string                         `json:"type"`
	ID            string                         `json:"id,omitempty"`
	Attributes    map[string]any                 `json:"attributes,omitempty"`
	Relationships map[string]RelationshipObject `json:"relationships,omitempty"`
}

// Document is the top-level JSON:API envelope.
type Document struct {
	Data   *ResourceObject `json:"data,omitempty"`
	Errors []ErrorObject   `json:"errors,omitempty"`
}

// ErrorObject is one JSON:API error entry.
type ErrorObject struct {
	Status string `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func singularize(pluralType string) string {
	switch {
	case len(pluralType) > 3 && pluralType[len(pluralType)-3:] == "ies":
		return pluralType[:len(pluralType)-3] + "y"
	case len(pluralType) > 1 && pluralType[len(pluralType)-1] == 's':
		return pluralType[:len(pluralType)-1]
	default:
		return pluralType
	}
}

func recordToResource(r model.Record) ResourceObject {
	res := ResourceObject{Type: pluralize(r.Type), ID: r.ID, Attributes: r.Attributes}
	if len(r.Relationships) == 0 {
		return res
	}
	res.Relationships = make(map[string]RelationshipObject, len(r.Relationships))
	for name, rel := range r.Relationships {
		res.Relationships[name] = relationshipToObject(rel)
	}
	return res
}

func relationshipToObject(rel model.Relationship) RelationshipObject {
	if rel.HasMany {
		idents := make([]ResourceIdentifier, 0, len(rel.Many))
		for keyStr := range rel.Many {
			if k, ok := parseKeyString(keyStr); ok {
				idents = append(idents, ResourceIdentifier{Type: pluralize(k.Type), ID: k.ID})
			}
		}
		raw, _ := json.Marshal(idents)
		return RelationshipObject{Data: raw}
	}
	if rel.One == nil {
		return RelationshipObject{Data: json.RawMessage("null")}
	}
	raw, _ := json.Marshal(ResourceIdentifier{Type: pluralize(rel.One.Type), ID: rel.One.ID})
	return RelationshipObject{Data: raw}
}

func resourceToRecord(res ResourceObject) model.Record {
	rec := model.Record{Type: singularize(res.Type), ID: res.ID, Attributes: res.Attributes}
	if len(res.Relationships) == 0 {
		return rec
	}
	rec.Relationships = make(map[string]model.Relationship, len(res.Relationships))
	for name, obj := range res.Relationships {
		rec.Relationships[name] = objectToRelationship(obj)
	}
	return rec
}

func objectToRelationship(obj RelationshipObject) model.Relationship {
	if len(obj.Data) == 0 || string(obj.Data) == "null" {
		return model.NewHasOne(nil)
	}
	var list []ResourceIdentifier
	if json.Unmarshal(obj.Data, &list) == nil {
		keys := make([]model.Key, 0, len(list))
		for _, ident := range list {
			keys = append(keys, ident.toKey())
		}
		return model.NewHasMany(keys...)
	}
	var single ResourceIdentifier
	if json.Unmarshal(obj.Data, &single) == nil && single.Type != "" {
		k := single.toKey()
		return model.NewHasOne(&k)
	}
	return model.NewHasOne(nil)
}

func parseKeyString(s string) (model.Key, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return model.Key{Type: s[:i], ID: s[i+1:]}, true
		}
	}
	return model.Key{}, false
}
