package cache

import (
	"strings"

	"github.com/nimbusdata/syncengine/internal/model"
)

// Get returns the value at a deep, slash-separated path, e.g.
// "planet/earth/attributes/name" or "planet/earth/relationships/moons/data".
// It returns false if any segment along the path does not exist.
func (c *Cache) Get(path string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(splitPath(path))
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (c *Cache) getLocked(segments []string) (any, bool) {
	if len(segments) < 2 {
		return nil, false
	}
	rec, ok := c.recordLocked(model.Key{Type: segments[0], ID: segments[1]})
	if !ok {
		return nil, false
	}
	if len(segments) == 2 {
		return rec, true
	}
	return walkRecord(rec, segments[2:])
}

func walkRecord(rec model.Record, segments []string) (any, bool) {
	if len(segments) == 0 {
		return rec, true
	}
	switch segments[0] {
	case "attributes":
		return walkMap(rec.Attributes, segments[1:])
	case "keys":
		return walkStringMap(rec.Keys, segments[1:])
	case "meta":
		return walkMap(rec.Meta, segments[1:])
	case "relationships":
		if len(segments) < 2 {
			return rec.Relationships, true
		}
		rel, ok := rec.Relationships[segments[1]]
		if !ok {
			return nil, false
		}
		if len(segments) == 2 {
			return rel, true
		}
		if segments[2] != "data" {
			return nil, false
		}
		if rel.HasMany {
			if len(segments) == 3 {
				return rel.Many, true
			}
			v, ok := rel.Many[segments[3]]
			return v, ok
		}
		if len(segments) == 3 {
			if rel.One == nil {
				return nil, true
			}
			return *rel.One, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func walkMap(m map[string]any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return m, true
	}
	v, ok := m[segments[0]]
	if !ok {
		return nil, false
	}
	if len(segments) == 1 {
		return v, true
	}
	return nil, false
}

func walkStringMap(m map[string]string, segments []string) (any, bool) {
	if len(segments) == 0 {
		return m, true
	}
	v, ok := m[segments[0]]
	if !ok {
		return nil, false
	}
	if len(segments) == 1 {
		return v, true
	}
	return nil, false
}
