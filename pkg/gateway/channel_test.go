package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nimbusfs/syncd/pkg/auth"
	"github.com/nimbusfs/syncd/pkg/events"
	"github.com/nimbusfs/syncd/pkg/store"
	"github.com/nimbusfs/syncd/pkg/tasks"
	"github.com/nimbusfs/syncd/pkg/types"
)

func newTestChannelServer(t *testing.T) (*httptest.Server, string) {
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
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, key.Plaintext
}

func dialChannel(t *testing.T, ts *httptest.Server, apiKey string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = "apiKey=" + apiKey

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestChannelCreateFileAcksAndBroadcasts(t *testing.T) {
	ts, key := newTestChannelServer(t)

	sender := dialChannel(t, ts, key)
	receiver := dialChannel(t, ts, key)
	time.Sleep(50 * time.Millisecond) // let both joins land before the broadcast

	ackID := uuid.NewString()
	msg := inboundMessage{
		Event: types.EventCreatedFile,
		AckID: ackID,
		Data:  json.RawMessage(`{"path":"a.txt"}`),
	}
	if err := sender.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	sender.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack ackMessage
	if err := sender.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !ack.Success || ack.AckID != ackID {
		t.Fatalf("ack = %+v", ack)
	}

	receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := receiver.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != types.EventFileCreated {
		t.Errorf("event = %q, want file-created", env.Event)
	}
	if !strings.Contains(string(env.Data), `"path":"a.txt"`) {
		t.Errorf("data = %s, missing path", env.Data)
	}
}

func TestChannelSenderReceivesOnlyAck(t *testing.T) {
	ts, key := newTestChannelServer(t)
	sender := dialChannel(t, ts, key)
	time.Sleep(30 * time.Millisecond)

	ackID := uuid.NewString()
	msg := inboundMessage{Event: types.EventCreatedFile, AckID: ackID, Data: json.RawMessage(`{"path":"solo.txt"}`)}
	if err := sender.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	sender.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack ackMessage
	if err := sender.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !ack.Success {
		t.Fatalf("ack = %+v", ack)
	}

	sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := sender.ReadMessage(); err == nil {
		t.Fatal("sender should not receive its own broadcast")
	}
}

func TestChannelRejectsBadApiKey(t *testing.T) {
	ts, _ := newTestChannelServer(t)
	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = "apiKey=sk_store_bogus_nope"

	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp != nil && resp.StatusCode != 401 {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
