// Package model defines the wire-stable record, operation and transform
// shapes shared by every source and processor in the engine.
package model

import "fmt"

// Key identifies a record by its model type and local id. The string form
// "type:id" is canonical wherever a relationship needs to name a record.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

func (k Key) IsZero() bool {
	return k.Type == "" && k.ID == ""
}

// Relationship holds either a hasOne slot (One is a *Key, nil for empty)
// or a hasMany slot (Many is a set of Key.String() -> true).
type Relationship struct {
	HasMany bool
	One     *Key
	Many    map[string]bool
}

func NewHasOne(k *Key) Relationship {
	return Relationship{HasMany: false, One: k}
}

func NewHasMany(keys ...Key) Relationship {
	many := make(map[string]bool, len(keys))
	for _, k := range keys {
		many[k.String()] = true
	}
	return Relationship{HasMany: true, Many: many}
}

// Record is the engine's canonical representation of one (type, id) entity.
type Record struct {
	Type          string
	ID            string
	Keys          map[string]string
	Attributes    map[string]any
	Relationships map[string]Relationship
	// Meta carries provider-opaque bookkeeping (etags, version vectors).
	// It round-trips through cache.Patch untouched; no processor inspects it.
	Meta map[string]any
}

func (r Record) Key() Key {
	return Key{Type: r.Type, ID: r.ID}
}

// Clone returns a deep-enough copy so callers may mutate the result without
// affecting the cache's stored copy.
func (r Record) Clone() Record {
	out := Record{Type: r.Type, ID: r.ID}
	if r.Keys != nil {
		out.Keys = make(map[string]string, len(r.Keys))
		for k, v := range r.Keys {
			out.Keys[k] = v
		}
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	if r.Relationships != nil {
		out.Relationships = make(map[string]Relationship, len(r.Relationships))
		for name, rel := range r.Relationships {
			clone := Relationship{HasMany: rel.HasMany}
			if rel.One != nil {
				k := *rel.One
				clone.One = &k
			}
			if rel.Many != nil {
				clone.Many = make(map[string]bool, len(rel.Many))
				for k, v := range rel.Many {
					clone.Many[k] = v
				}
			}
			out.Relationships[name] = clone
		}
	}
	if r.Meta != nil {
		out.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			out.Meta[k] = v
		}
	}
	return out
}
