package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimbusdata/syncengine/internal/cache"
	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/livefeed"
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
)

const testJWTSecret = "test-secret"

func signToken(t *testing.T, secret string, scopes []string, exp time.Time) string {
	t.Helper()
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	payload := map[string]any{
		"sub":    "test-caller",
		"aud":    "syncengine",
		"exp":    exp.Unix(),
		"scopes": scopes,
	}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, _ := json.Marshal(payload)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + sig
}

func newTestServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	coord := coordinator.New()
	txLog := NewTransformLog(100)
	hub := livefeed.NewHub()
	srv := NewServerWithConfig(coord, txLog, hub, ServerConfig{JWTSecret: testJWTSecret})
	return srv, coord
}

func doRequest(srv *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServer_Nodes_RequiresBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/nodes", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServer_Nodes_RejectsMissingScope(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, testJWTSecret, []string{"other:scope"}, time.Now().Add(time.Hour))
	rec := doRequest(srv, http.MethodGet, "/nodes", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestServer_Nodes_RejectsExpiredToken(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, testJWTSecret, []string{"ops:read"}, time.Now().Add(-time.Hour))
	rec := doRequest(srv, http.MethodGet, "/nodes", token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServer_Nodes_ListsRegisteredNodes(t *testing.T) {
	srv, coord := newTestServer(t)
	mem := source.NewMemory("earth", cache.New(), nil, source.Policy{})
	coord.AddNode("planets", mem)

	token := signToken(t, testJWTSecret, []string{"ops:read"}, time.Now().Add(time.Hour))
	rec := doRequest(srv, http.MethodGet, "/nodes", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Nodes []nodeSummary `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Nodes) != 1 || body.Nodes[0].Name != "planets" || body.Nodes[0].Sources != 1 {
		t.Fatalf("unexpected nodes payload: %+v", body.Nodes)
	}
}

func TestServer_NodeSourceCache_ReturnsMemoryDump(t *testing.T) {
	srv, coord := newTestServer(t)
	c := cache.New()
	if err := c.Patch(model.AddRecord(model.Record{
		Type: "planet", ID: "mars", Attributes: map[string]any{"name": "Mars"},
	})); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	mem := source.NewMemory("mars-source", c, nil, source.Policy{})
	coord.AddNode("planets", mem)

	token := signToken(t, testJWTSecret, []string{"ops:read"}, time.Now().Add(time.Hour))
	rec := doRequest(srv, http.MethodGet, "/nodes/planets/sources/0/cache", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !contains(rec.Body.String(), "Mars") {
		t.Fatalf("expected cache dump to contain Mars, got %s", rec.Body.String())
	}
}

func TestServer_NodeSourceCache_UnknownNode(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, testJWTSecret, []string{"ops:read"}, time.Now().Add(time.Hour))
	rec := doRequest(srv, http.MethodGet, "/nodes/nowhere/sources/0/cache", token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServer_Transforms_FiltersBySince(t *testing.T) {
	srv, coord := newTestServer(t)
	_ = coord

	first := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "earth"}))
	second := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "mars"}))
	srv.log.Record("earth-node", first)
	srv.log.Record("earth-node", second)

	token := signToken(t, testJWTSecret, []string{"ops:read"}, time.Now().Add(time.Hour))
	rec := doRequest(srv, http.MethodGet, "/transforms?since="+first.ID, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Transforms []NodeTransform `json:"transforms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Transforms) != 1 || body.Transforms[0].Transform.ID != second.ID {
		t.Fatalf("expected only the second transform, got %+v", body.Transforms)
	}
}

func TestServer_UnknownRoute_404(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, testJWTSecret, []string{"ops:read"}, time.Now().Add(time.Hour))
	rec := doRequest(srv, http.MethodGet, "/nope", token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
