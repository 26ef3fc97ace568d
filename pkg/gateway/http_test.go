package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimbusfs/syncd/pkg/auth"
	"github.com/nimbusfs/syncd/pkg/events"
	"github.com/nimbusfs/syncd/pkg/store"
	"github.com/nimbusfs/syncd/pkg/tasks"
	"github.com/nimbusfs/syncd/pkg/types"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st := store.NewMemoryStore()
	runner := tasks.NewRunner(2, 16)
	t.Cleanup(runner.Stop)

	tenant := &types.Tenant{Name: "acme"}
	if err := st.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	key, err := auth.GenerateKey(tenant.ID)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cred := &types.Credential{
		TenantID:    tenant.ID,
		Hash:        key.Hash,
		Prefix:      key.Prefix,
		Permissions: []types.Permission{types.PermissionRead, types.PermissionWrite},
	}
	if err := st.CreateCredential(context.Background(), cred); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	authn := auth.NewAuthenticator(st, runner, "sk_admin_test")
	rooms := events.NewRoomRegistry()
	srv := NewServer(st, authn, rooms, runner, []string{"*"})
	return srv, key.Plaintext
}

func doRequest(srv *Server, method, target, apiKey string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	srv, key := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "a.txt", Content: "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(srv, http.MethodGet, "/files?path=a.txt", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var resp fileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content == nil || *resp.Content != "hello" {
		t.Errorf("content = %v, want hello", resp.Content)
	}
}

func TestCreateStrictConflictsOnActive(t *testing.T) {
	srv, key := newTestServer(t)

	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "a.txt", Content: "v1"})
	rec := doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "a.txt", Content: "v2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetMissingFileReturns404(t *testing.T) {
	srv, key := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/files?path=missing.txt", key, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListModeUsesPathAsPrefix(t *testing.T) {
	srv, key := newTestServer(t)
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "src/a.go", Content: "x"})
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "src/b.go", Content: "y"})
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "docs/c.md", Content: "z"})

	rec := doRequest(srv, http.MethodGet, "/files?path=src/&limit=10&offset=0", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	for _, f := range resp.Files {
		if f.Content != nil {
			t.Error("list projection must not include content")
		}
	}
}

func TestDeleteIsIdempotentAt204(t *testing.T) {
	srv, key := newTestServer(t)
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "a.txt", Content: "v"})

	rec := doRequest(srv, http.MethodDelete, "/files?path=a.txt", key, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = doRequest(srv, http.MethodDelete, "/files?path=a.txt", key, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second delete status = %d, want 204", rec.Code)
	}
}

func TestRenameMovesFile(t *testing.T) {
	srv, key := newTestServer(t)
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "old.txt", Content: "v"})

	rec := doRequest(srv, http.MethodPatch, "/files", key, renameRequest{Path: "old.txt", NewPath: "new.txt"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(srv, http.MethodGet, "/files?path=old.txt", key, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("old path status = %d, want 404", rec.Code)
	}
	rec = doRequest(srv, http.MethodGet, "/files?path=new.txt", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("new path status = %d, want 200", rec.Code)
	}
}

func TestMissingKeyIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/files?path=a.txt", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthReportsHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyReportsReachable(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["database"] != "reachable" {
		t.Errorf("checks[database] = %q, want reachable", body.Checks["database"])
	}
}

func TestDeleteAllReturnsCount(t *testing.T) {
	srv, key := newTestServer(t)
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "a.txt", Content: "v"})
	doRequest(srv, http.MethodPost, "/files", key, createRequest{Path: "b.txt", Content: "v"})

	rec := doRequest(srv, http.MethodDelete, "/files/all", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", resp["deleted"])
	}
}
