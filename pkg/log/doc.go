/*
Package log provides structured logging for the sync server using
zerolog: a package-level Logger initialized via Init, and component-
scoped child loggers (WithComponent, WithTenantID, WithConnID,
WithCredentialID) for attaching request/connection context.

Validation and authorization failures are logged at warn; internal
failures at error with the causal chain (see pkg/apperr).
*/
package log
