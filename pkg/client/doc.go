/*
Package client is a thin Go SDK over the sync server's HTTP request/
response surface and WebSocket event channel: one typed method per
file operation, a bearer API key carried on every call, and a fixed
10-second HTTP client timeout per request.
*/
package client
