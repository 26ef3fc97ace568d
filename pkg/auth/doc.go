/*
Package auth implements the key validator (C1): classifying a bearer
token as an admin or tenant-scoped key, authenticating it against the
configured admin key or the credential store, and generating new
tenant credentials.

Tenant-key authentication hashes the presented plaintext with SHA-256
and looks it up by exact hash equality, restricted to unrevoked
credentials — the hash is never reversed or compared in plaintext.
Admin-key authentication is a constant-time comparison against a
single process-wide configured value; it never touches the store.
*/
package auth
