package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nimbusfs/syncd/pkg/apperr"
	"github.com/nimbusfs/syncd/pkg/log"
	"github.com/nimbusfs/syncd/pkg/metrics"
	"github.com/nimbusfs/syncd/pkg/types"
	"github.com/nimbusfs/syncd/pkg/validate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundMessage is the wire framing a peer sends: a named event, its
// payload, and the ack id the server echoes back with the result.
type inboundMessage struct {
	Event types.EventType `json:"event"`
	AckID string          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

// ackMessage is the single response the server sends for an
// inboundMessage, exactly once.
type ackMessage struct {
	AckID string `json:"ackId"`
	apperr.AckEnvelope
}

// conn wraps one live WebSocket connection. A single writer goroutine
// serializes outbound frames (broadcasts and acks share the socket);
// acked tracks that each inbound ackId is honored exactly once.
type conn struct {
	id       string
	identity types.Identity
	ws       *websocket.Conn
	send     chan []byte
	acked    sync.Map // ackId -> struct{}{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("apiKey")
	identity, err := s.authn.Authenticate(r.Context(), apiKey)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("channel").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("channel").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:       uuid.NewString(),
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, 64),
	}
	room := roomKey(identity.TenantID)
	member := s.rooms.Join(room, c.id)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay(member.Send, c.send)
	}()

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	connLog := log.WithConnID(c.id)
	connLog.Info().Str("tenant_id", identity.TenantID).Msg("channel connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(c)
	}()

	// readLoop returns once the peer disconnects. Leave the room first so
	// no later broadcast targets this connection, let the relay finish,
	// and only then close the send channel that relay writes to.
	s.readLoop(c, connLog)
	s.rooms.Leave(room, c.id)
	<-relayDone
	close(c.send)
	wg.Wait()
	connLog.Info().Msg("channel disconnected")
}

// relay copies frames from the room-registry member channel to the
// connection's own send channel until the member channel closes on
// Leave. Frames are dropped rather than blocking a slow reader.
func relay(from <-chan []byte, to chan<- []byte) {
	for msg := range from {
		select {
		case to <- msg:
		default:
		}
	}
}

func (s *Server) writeLoop(c *conn) {
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(c *conn, connLog zerolog.Logger) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		s.dispatchInbound(c, msg, connLog)
	}
}

func (s *Server) dispatchInbound(c *conn, msg inboundMessage, connLog zerolog.Logger) {
	if _, already := c.acked.LoadOrStore(msg.AckID, struct{}{}); already {
		connLog.Warn().Str("ack_id", msg.AckID).Msg("duplicate ack id, ignoring")
		return
	}

	err := checkWritePermission(c.identity)
	var hash string
	if err == nil {
		hash, err = s.handleInboundEvent(c, msg)
	}

	ack := ackMessage{AckID: msg.AckID}
	if err != nil {
		ack.AckEnvelope = apperr.ToAck(err)
		if apperr.As(err).Code == apperr.CodeInternal {
			connLog.Error().Err(err).Str("event", string(msg.Event)).Msg("inbound event failed")
		} else {
			connLog.Warn().Err(err).Str("event", string(msg.Event)).Msg("inbound event failed")
		}
	} else {
		ack.AckEnvelope = apperr.AckEnvelope{Success: true, Hash: hash}
	}
	s.sendAck(c, ack)
}

func checkWritePermission(identity types.Identity) error {
	if identity.IsAdmin {
		return nil
	}
	if !types.HasPermission(identity.Permissions, types.PermissionWrite) {
		return apperr.Forbidden("missing required permission: write")
	}
	return nil
}

func (s *Server) sendAck(c *conn, ack ackMessage) {
	body, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case c.send <- body:
	default:
	}
}

type createdFilePayload struct {
	Path string `json:"path"`
}

type modifiedFilePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type deletedFilePayload struct {
	Path string `json:"path"`
}

type renamedFilePayload struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// handleInboundEvent runs the C3 operation matching msg.Event and, on
// a successful state change, broadcasts the matching outbound event to
// the tenant room excluding the originating connection. It returns the
// resulting record's hash for the ack envelope, empty for delete.
func (s *Server) handleInboundEvent(c *conn, msg inboundMessage) (string, error) {
	ctx := context.Background()
	tenantID := c.identity.TenantID

	switch msg.Event {
	case types.EventCreatedFile:
		var payload createdFilePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return "", apperr.Validation("invalid payload")
		}
		if err := validate.Path(payload.Path); err != nil {
			return "", err
		}

		timer := metrics.NewTimer()
		outcome, err := s.store.CreateEmpty(ctx, tenantID, payload.Path)
		timer.ObserveDurationVec(metrics.FileOperationDuration, "create")
		if err != nil {
			metrics.FileOperationsTotal.WithLabelValues("create", "error").Inc()
			return "", apperr.Internal("failed to create file", err)
		}
		metrics.FileOperationsTotal.WithLabelValues("create", "success").Inc()
		if outcome.Created {
			s.broadcastFileCreated(tenantID, c.id, outcome.Record)
		}
		return outcome.Record.Hash, nil

	case types.EventModifiedFile:
		var payload modifiedFilePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return "", apperr.Validation("invalid payload")
		}
		if err := validate.Path(payload.Path); err != nil {
			return "", err
		}
		if err := validate.Content(payload.Content); err != nil {
			return "", err
		}

		timer := metrics.NewTimer()
		outcome, err := s.store.Upsert(ctx, tenantID, payload.Path, payload.Content)
		timer.ObserveDurationVec(metrics.FileOperationDuration, "upsert")
		if err != nil {
			metrics.FileOperationsTotal.WithLabelValues("upsert", "error").Inc()
			return "", apperr.Internal("failed to modify file", err)
		}
		metrics.FileOperationsTotal.WithLabelValues("upsert", "success").Inc()
		if outcome.Created {
			s.broadcastFileCreated(tenantID, c.id, outcome.Record)
		} else {
			s.broadcastFileModified(tenantID, c.id, outcome.Record)
		}
		return outcome.Record.Hash, nil

	case types.EventDeletedFile:
		var payload deletedFilePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return "", apperr.Validation("invalid payload")
		}
		if err := validate.Path(payload.Path); err != nil {
			return "", err
		}

		timer := metrics.NewTimer()
		outcome, err := s.store.SoftDelete(ctx, tenantID, payload.Path)
		timer.ObserveDurationVec(metrics.FileOperationDuration, "delete")
		if err != nil {
			metrics.FileOperationsTotal.WithLabelValues("delete", "error").Inc()
			return "", apperr.Internal("failed to delete file", err)
		}
		metrics.FileOperationsTotal.WithLabelValues("delete", "success").Inc()
		if outcome.Deleted {
			s.broadcastFileDeleted(tenantID, c.id, payload.Path)
		}
		return "", nil

	case types.EventRenamedFile:
		var payload renamedFilePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return "", apperr.Validation("invalid payload")
		}
		if err := validate.Path(payload.OldPath); err != nil {
			return "", err
		}
		if err := validate.Path(payload.NewPath); err != nil {
			return "", err
		}

		timer := metrics.NewTimer()
		outcome, err := s.store.Rename(ctx, tenantID, payload.OldPath, payload.NewPath)
		timer.ObserveDurationVec(metrics.FileOperationDuration, "rename")
		if err != nil {
			metrics.FileOperationsTotal.WithLabelValues("rename", "error").Inc()
			return "", apperr.Internal("failed to rename file", err)
		}
		metrics.FileOperationsTotal.WithLabelValues("rename", "success").Inc()
		if outcome.Created {
			s.broadcastFileCreated(tenantID, c.id, outcome.Record)
		} else {
			s.broadcastFileRenamed(tenantID, c.id, payload.OldPath, outcome.Record)
		}
		return outcome.Record.Hash, nil

	default:
		return "", apperr.Validation("unknown event type: " + string(msg.Event))
	}
}
