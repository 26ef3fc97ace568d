/*
Package types defines the core data structures shared across the sync
server: tenants, credentials, file records, and the event/ack payloads
exchanged over both the channel and request/response gateways.

These types carry no behavior beyond small derivations (see
ExtractExtension, IsBinaryExtension in pkg/validate) — they are plain
structs passed between pkg/store, pkg/auth, and pkg/gateway.
*/
package types
