package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimbusfs/syncd/pkg/log"
	"github.com/nimbusfs/syncd/pkg/metrics"
	"github.com/nimbusfs/syncd/pkg/types"
)

// roomKey names the tenant-scoped room a connection joins, per
// spec.md §4.5 ("store:<tenantId>").
func roomKey(tenantID string) string {
	return fmt.Sprintf("store:%s", tenantID)
}

// envelope is the wire framing for every outbound channel message:
// a named event and its payload. Inbound client messages use the same
// shape plus an ackId the server echoes back in the ack.
type envelope struct {
	Event types.EventType `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeEnvelope(event types.EventType, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithComponent("gateway").Error().Err(err).Str("event", string(event)).Msg("failed to marshal outbound event")
		return nil
	}
	out, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		log.WithComponent("gateway").Error().Err(err).Str("event", string(event)).Msg("failed to marshal outbound envelope")
		return nil
	}
	return out
}

// broadcast sends payload to tenantID's room, excluding excludeConnID.
// An empty excludeConnID (the request/response path has no sender
// connection) broadcasts to the entire room per spec.md §4.6.
func (s *Server) broadcast(tenantID string, excludeConnID string, event types.EventType, payload any) {
	msg := encodeEnvelope(event, payload)
	if msg == nil {
		return
	}
	room := roomKey(tenantID)
	s.rooms.BroadcastExcept(room, excludeConnID, msg)
	metrics.BroadcastsTotal.WithLabelValues(string(event)).Inc()
	metrics.BroadcastRecipients.Observe(float64(s.rooms.RoomSize(room)))
}

func isoTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func (s *Server) broadcastFileCreated(tenantID, excludeConnID string, rec *types.FileRecord) {
	s.broadcast(tenantID, excludeConnID, types.EventFileCreated, types.FileCreatedPayload{
		Path:      rec.Path,
		Content:   rec.Content,
		Hash:      rec.Hash,
		Size:      rec.Size,
		IsBinary:  rec.IsBinary,
		Extension: rec.Extension,
		CreatedAt: isoTime(rec.CreatedAt),
	})
}

func (s *Server) broadcastFileModified(tenantID, excludeConnID string, rec *types.FileRecord) {
	s.broadcast(tenantID, excludeConnID, types.EventFileModified, types.FileModifiedPayload{
		Path:      rec.Path,
		Content:   rec.Content,
		Hash:      rec.Hash,
		Size:      rec.Size,
		IsBinary:  rec.IsBinary,
		Extension: rec.Extension,
		UpdatedAt: isoTime(rec.UpdatedAt),
	})
}

func (s *Server) broadcastFileDeleted(tenantID, excludeConnID, path string) {
	s.broadcast(tenantID, excludeConnID, types.EventFileDeleted, types.FileDeletedPayload{
		Path:      path,
		DeletedAt: isoTime(time.Now()),
	})
}

func (s *Server) broadcastFileRenamed(tenantID, excludeConnID, oldPath string, rec *types.FileRecord) {
	s.broadcast(tenantID, excludeConnID, types.EventFileRenamed, types.FileRenamedPayload{
		OldPath:   oldPath,
		NewPath:   rec.Path,
		Content:   rec.Content,
		Hash:      rec.Hash,
		Size:      rec.Size,
		IsBinary:  rec.IsBinary,
		Extension: rec.Extension,
		UpdatedAt: isoTime(rec.UpdatedAt),
	})
}
