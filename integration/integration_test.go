// Package integration drives the real HTTP+WS surface against an
// in-memory store, exercising the end-to-end scenarios a unit test
// scoped to a single package can't see.
package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/syncd/pkg/auth"
	"github.com/nimbusfs/syncd/pkg/client"
	"github.com/nimbusfs/syncd/pkg/events"
	"github.com/nimbusfs/syncd/pkg/gateway"
	"github.com/nimbusfs/syncd/pkg/store"
	"github.com/nimbusfs/syncd/pkg/tasks"
	"github.com/nimbusfs/syncd/pkg/types"
)

type harness struct {
	ts  *httptest.Server
	key string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	runner := tasks.NewRunner(4, 64)
	t.Cleanup(runner.Stop)

	tenant := &types.Tenant{Name: "acme"}
	require.NoError(t, st.CreateTenant(context.Background(), tenant))

	key, err := auth.GenerateKey(tenant.ID)
	require.NoError(t, err)

	cred := &types.Credential{
		TenantID:    tenant.ID,
		Hash:        key.Hash,
		Prefix:      key.Prefix,
		Permissions: []types.Permission{types.PermissionRead, types.PermissionWrite},
	}
	require.NoError(t, st.CreateCredential(context.Background(), cred))

	authn := auth.NewAuthenticator(st, runner, "sk_admin_test")
	rooms := events.NewRoomRegistry()
	srv := gateway.NewServer(st, authn, rooms, runner, []string{"*"})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &harness{ts: ts, key: key.Plaintext}
}

func (h *harness) client() *client.Client {
	return client.NewClient(h.ts.URL, h.key)
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(h.ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = "apiKey=" + h.key

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

type inboundFrame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

type ackFrame struct {
	AckID   string `json:"ackId"`
	Success bool   `json:"success"`
	Hash    string `json:"hash,omitempty"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func emit(t *testing.T, ws *websocket.Conn, event string, data any) ackFrame {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	ackID := uuid.NewString()
	require.NoError(t, ws.WriteJSON(inboundFrame{Event: event, AckID: ackID, Data: raw}))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack ackFrame
	require.NoError(t, ws.ReadJSON(&ack))
	require.Equal(t, ackID, ack.AckID)
	return ack
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// S1. Create-then-discover idempotence.
func TestS1CreateThenDiscoverIdempotence(t *testing.T) {
	h := newHarness(t)
	p1 := h.dial(t)
	p2 := h.dial(t)
	time.Sleep(50 * time.Millisecond)

	ack := emit(t, p1, "created-file", map[string]string{"path": "notes/a.md"})
	require.True(t, ack.Success)
	require.Equal(t, sha256Hex(""), ack.Hash)

	p2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := p2.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "file-created", env.Event)

	var payload types.FileCreatedPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Equal(t, "notes/a.md", payload.Path)
	require.Equal(t, "", payload.Content)
	require.Equal(t, int64(0), payload.Size)
	require.False(t, payload.IsBinary)
	require.Equal(t, "md", payload.Extension)

	ack2 := emit(t, p1, "created-file", map[string]string{"path": "notes/a.md"})
	require.True(t, ack2.Success)
	require.Equal(t, ack.Hash, ack2.Hash)

	p2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = p2.ReadMessage()
	require.Error(t, err, "second created-file for the same path must not rebroadcast")
}

// S2. Upsert-over-tombstone resurrection.
func TestS2UpsertOverTombstoneResurrection(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	ctx := context.Background()

	created, err := c.UpsertFile(ctx, "x.md", "hello")
	require.NoError(t, err)

	require.NoError(t, c.DeleteFile(ctx, "x.md"))

	resurrected, err := c.UpsertFile(ctx, "x.md", "again")
	require.NoError(t, err)
	require.Equal(t, created.Hash != resurrected.Hash, true)
	require.Nil(t, resurrected.ExpiresAt)
}

// S3. Rename over destination.
func TestS3RenameOverDestination(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	ctx := context.Background()

	_, err := c.UpsertFile(ctx, "a.md", "A")
	require.NoError(t, err)
	_, err = c.UpsertFile(ctx, "b.md", "B")
	require.NoError(t, err)

	renamed, err := c.RenameFile(ctx, "a.md", "b.md")
	require.NoError(t, err)
	require.NotNil(t, renamed.Content)
	require.Equal(t, "A", *renamed.Content)

	_, err = c.GetFile(ctx, "a.md")
	require.Error(t, err)

	got, err := c.GetFile(ctx, "b.md")
	require.NoError(t, err)
	require.Equal(t, "A", *got.Content)
}

// S4. Binary filter composability.
func TestS4BinaryFilterComposability(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.UpsertFile(ctx, fmt.Sprintf("doc%d.md", i), "plain text")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := c.UpsertFile(ctx, fmt.Sprintf("img%d.png", i), "binarydata")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := c.UpsertFile(ctx, fmt.Sprintf("pic%d.jpg", i), "binarydata")
		require.NoError(t, err)
	}
	_, err := c.UpsertFile(ctx, "recipe.md", "contains the word recipe")
	require.NoError(t, err)

	byExt, err := c.ListFiles(ctx, client.ListOptions{Extension: "png,jpg", Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 5, byExt.Total)
	for _, f := range byExt.Files {
		require.True(t, f.IsBinary)
	}

	byContent, err := c.ListFiles(ctx, client.ListOptions{ContentContains: "recipe", Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 1, byContent.Total)

	combined, err := c.ListFiles(ctx, client.ListOptions{Extension: "md", ContentContains: "recipe", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, combined.Total)
}

// S5. Sender exclusion.
func TestS5SenderExclusion(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	ctx := context.Background()
	_, err := c.UpsertFile(ctx, "x.md", "v0")
	require.NoError(t, err)

	p1 := h.dial(t)
	p2 := h.dial(t)
	time.Sleep(50 * time.Millisecond)

	ack := emit(t, p1, "modified-file", map[string]string{"path": "x.md", "content": "v"})
	require.True(t, ack.Success)

	p1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = p1.ReadMessage()
	require.Error(t, err, "sender must not receive its own broadcast")

	p2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := p2.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "file-modified", env.Event)
}

// S6. Concurrent strict create.
func TestS6ConcurrentStrictCreate(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	contents := []string{"one", "two"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.CreateFile(ctx, "z.md", contents[i])
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var apiErr *client.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, "CONFLICT", apiErr.Code)
			conflicts++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)

	got, err := c.GetFile(ctx, "z.md")
	require.NoError(t, err)
	require.Contains(t, contents, *got.Content)
}
