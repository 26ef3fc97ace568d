/*
Package gateway implements the two external surfaces described in
spec.md §6: an HTTP request/response gateway (C6) built on
go-chi/chi, and a WebSocket event channel gateway (C5) built on
gorilla/websocket. Both paths authenticate through pkg/auth, validate
through pkg/validate, mutate through pkg/store, and broadcast through
pkg/events — so a mutation on either path converges to the same
outbound event shape for every other connection in the tenant's room.
*/
package gateway
