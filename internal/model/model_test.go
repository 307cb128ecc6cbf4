package model

import "testing"

func TestTransformID_MonotonicallySortable(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = NewTransformID()
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids[%d]=%q not greater than ids[%d]=%q", i, ids[i], i-1, ids[i-1])
		}
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	original := Record{
		Type: "planet", ID: "earth",
		Attributes:    map[string]any{"name": "Earth"},
		Relationships: map[string]Relationship{"moons": NewHasMany(Key{Type: "moon", ID: "luna"})},
	}
	clone := original.Clone()
	clone.Attributes["name"] = "Mutated"
	clone.Relationships["moons"].Many["moon:deimos"] = true

	if original.Attributes["name"] != "Earth" {
		t.Errorf("mutating clone's attributes leaked into original: %v", original.Attributes)
	}
	if original.Relationships["moons"].Many["moon:deimos"] {
		t.Errorf("mutating clone's relationship set leaked into original")
	}
}

func TestKey_StringAndZero(t *testing.T) {
	k := Key{Type: "planet", ID: "earth"}
	if k.String() != "planet:earth" {
		t.Errorf("String() = %q, want planet:earth", k.String())
	}
	if k.IsZero() {
		t.Errorf("non-empty key reported as zero")
	}
	if !(Key{}).IsZero() {
		t.Errorf("empty key not reported as zero")
	}
}

func TestOperation_RelatedKeySet(t *testing.T) {
	op := ReplaceHasMany(Key{Type: "planet", ID: "saturn"}, "moons", []Key{
		{Type: "moon", ID: "titan"}, {Type: "moon", ID: "europa"},
	})
	set := op.RelatedKeySet()
	if !set["moon:titan"] || !set["moon:europa"] || len(set) != 2 {
		t.Errorf("relatedKeySet = %v, want {moon:titan, moon:europa}", set)
	}
}

func TestNotAllowedError_IsSentinel(t *testing.T) {
	err := &NotAllowedError{Policy: "maxRequestsPerFetch", Limit: 5, Actual: 6}
	if !isNotAllowed(err) {
		t.Errorf("NotAllowedError does not satisfy errors.Is(ErrNotAllowed)")
	}
}

func isNotAllowed(err error) bool {
	type isser interface{ Is(error) bool }
	i, ok := err.(isser)
	return ok && i.Is(ErrNotAllowed)
}
