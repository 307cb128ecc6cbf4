package jsonapisource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
)

func TestPluralizeSingularizeRoundTrip(t *testing.T) {
	cases := []string{"planet", "city", "moon", "species", "galaxy"}
	for _, modelType := range cases {
		plural := pluralize(modelType)
		if got := singularize(plural); got != modelType {
			t.Errorf("pluralize/singularize round trip for %q: got %q via %q", modelType, got, plural)
		}
	}
}

func TestBuildURL(t *testing.T) {
	cases := []struct {
		host, namespace, modelType, id string
		segments                       []string
		want                           string
	}{
		{"http://api.test", "v1", "planet", "", nil, "http://api.test/v1/planets"},
		{"http://api.test/", "v1/", "planet", "earth", nil, "http://api.test/v1/planets/earth"},
		{"http://api.test", "", "city", "paris", []string{"relationships", "country"}, "http://api.test/cities/paris/relationships/country"},
	}
	for _, c := range cases {
		got := BuildURL(c.host, c.namespace, c.modelType, c.id, c.segments...)
		if got != c.want {
			t.Errorf("BuildURL(%q,%q,%q,%q,%v) = %q, want %q", c.host, c.namespace, c.modelType, c.id, c.segments, got, c.want)
		}
	}
}

func newTestClient(host string) *Client {
	return NewClient(ClientOptions{Host: host, Namespace: "v1"})
}

func TestBuildRequest_AddRecordIsPOST(t *testing.T) {
	c := newTestClient("http://api.test")
	req, err := c.buildRequest(model.AddRecord(model.Record{Type: "planet", ID: "mars", Attributes: map[string]any{"name": "Mars"}}))
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.method != http.MethodPost || req.url != "http://api.test/v1/planets" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBuildRequest_ReplaceRecordIsPATCH(t *testing.T) {
	c := newTestClient("http://api.test")
	rec := model.Record{Type: "planet", ID: "mars"}
	req, err := c.buildRequest(model.ReplaceRecord(rec))
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.method != http.MethodPatch || req.url != "http://api.test/v1/planets/mars" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBuildRequest_RemoveRecordIsDELETE(t *testing.T) {
	c := newTestClient("http://api.test")
	req, err := c.buildRequest(model.RemoveRecord(model.Key{Type: "planet", ID: "mars"}))
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.method != http.MethodDelete || req.url != "http://api.test/v1/planets/mars" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBuildRequest_ReplaceAttributeIsPATCHWithAttributeBody(t *testing.T) {
	c := newTestClient("http://api.test")
	req, err := c.buildRequest(model.ReplaceAttribute(model.Key{Type: "planet", ID: "mars"}, "name", "Mars!"))
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	doc, ok := req.body.(Document)
	if !ok || doc.Data == nil || doc.Data.Attributes["name"] != "Mars!" {
		t.Fatalf("unexpected request body: %+v", req.body)
	}
}

func TestBuildRequest_AddToHasManyIsPOSTToRelationshipURL(t *testing.T) {
	c := newTestClient("http://api.test")
	req, err := c.buildRequest(model.AddToHasMany(model.Key{Type: "planet", ID: "sol"}, "moons", model.Key{Type: "moon", ID: "europa"}))
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.method != http.MethodPost || req.url != "http://api.test/v1/planets/sol/relationships/moons" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseServerError_PrefersJSONAPIErrorDetail(t *testing.T) {
	body, _ := json.Marshal(Document{Errors: []ErrorObject{{Status: "422", Title: "Invalid", Detail: "name is required"}}})
	err := parseServerError(422, body)
	if err.StatusCode != 422 || err.Detail != "name is required" {
		t.Fatalf("unexpected server error: %+v", err)
	}
}

func TestParseServerError_FallsBackToRawBody(t *testing.T) {
	err := parseServerError(500, []byte("internal error"))
	if err.StatusCode != 500 || err.Detail != "internal error" {
		t.Fatalf("unexpected server error: %+v", err)
	}
}

// TestSource_DoTransform_UpstreamSuccess covers the case where the
// upstream annotates a newly added record (server-assigned attribute)
// before it comes back to the store.
func TestSource_DoTransform_UpstreamSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Document{Data: &ResourceObject{
			Type: "planets", ID: "mars", Attributes: map[string]any{"name": "Mars", "verified": true},
		}})
	}))
	defer ts.Close()

	client := NewClient(ClientOptions{Host: ts.URL, Namespace: "v1"})
	src := New("remote", client, source.Policy{})

	transform := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "mars", Attributes: map[string]any{"name": "Mars"}}))
	results, err := src.Transform(context.Background(), transform)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(results) != 1 || len(results[0].Operations) != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
	rec := results[0].Operations[0].FullRecord
	if rec == nil || rec.Attributes["verified"] != true {
		t.Fatalf("expected reconciled record to carry server-assigned attribute, got %+v", rec)
	}
}

// TestSource_DoTransform_UpstreamFailure covers the case where the
// upstream rejects the write, so the transform errors rather than being
// silently applied.
func TestSource_DoTransform_UpstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(Document{Errors: []ErrorObject{{Detail: "name is required"}}})
	}))
	defer ts.Close()

	client := NewClient(ClientOptions{Host: ts.URL, Namespace: "v1", MaxRetries: 0})
	src := New("remote", client, source.Policy{})

	transform := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "mars"}))
	if _, err := src.Transform(context.Background(), transform); err == nil {
		t.Fatal("expected upstream rejection to surface as an error")
	}
}

func TestSource_DoTransform_RespectsMaxRequestsPerTransform(t *testing.T) {
	called := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Document{})
	}))
	defer ts.Close()

	client := NewClient(ClientOptions{Host: ts.URL, Namespace: "v1"})
	src := New("remote", client, source.Policy{MaxRequestsPerTransform: 1})

	transform := model.NewTransform(
		model.ReplaceAttribute(model.Key{Type: "planet", ID: "mars"}, "name", "Mars"),
		model.ReplaceAttribute(model.Key{Type: "planet", ID: "mars"}, "verified", true),
	)
	if _, err := src.Transform(context.Background(), transform); err == nil {
		t.Fatal("expected NotAllowedError when operation count exceeds MaxRequestsPerTransform")
	}
	if called != 0 {
		t.Fatalf("expected no HTTP requests once the policy check rejects, got %d", called)
	}
}

func TestSource_DoQuery_ParsesResourceIntoRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/planets/mars" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Document{Data: &ResourceObject{Type: "planets", ID: "mars", Attributes: map[string]any{"name": "Mars"}}})
	}))
	defer ts.Close()

	client := NewClient(ClientOptions{Host: ts.URL, Namespace: "v1"})
	src := New("remote", client, source.Policy{})

	result, err := src.Fetch(context.Background(), Query{Type: "planet", ID: "mars"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	rec, ok := result.(model.Record)
	if !ok || rec.ID != "mars" || rec.Attributes["name"] != "Mars" {
		t.Fatalf("unexpected fetch result: %+v", result)
	}
}
