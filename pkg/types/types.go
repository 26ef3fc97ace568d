package types

import (
	"strings"
	"time"
)

// Tenant is an isolated namespace of files and credentials.
type Tenant struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a capability a credential can carry.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// HasPermission reports whether perms contains p.
func HasPermission(perms []Permission, p Permission) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}

// Credential is a tenant-scoped API key. The plaintext is never
// persisted; only Hash and the display Prefix are.
type Credential struct {
	ID          string
	TenantID    string
	Name        string
	Prefix      string
	Hash        string
	Permissions []Permission
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

// Revoked reports whether the credential has been revoked.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != nil
}

// KeyShape classifies a bearer token by its prefix.
type KeyShape int

const (
	KeyShapeUnknown KeyShape = iota
	KeyShapeAdmin
	KeyShapeTenant
)

// Identity is the resolved principal behind a request or connection.
type Identity struct {
	TenantID     string
	Permissions  []Permission
	CredentialID string
	IsAdmin      bool
}

// FileRecord is the authoritative representation of one tenant file.
// Tombstones are represented by ExpiresAt being non-nil; on a
// tombstone Content is empty, Size is 0, and Hash is the hash of the
// empty string.
type FileRecord struct {
	ID         string
	TenantID   string
	Path       string
	Content    string
	Hash       string
	Size       int64
	Extension  string // lowercase, no leading dot; "" if none
	IsBinary   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
}

// IsTombstone reports whether the record is a soft-deleted tombstone.
func (f *FileRecord) IsTombstone() bool {
	return f != nil && f.ExpiresAt != nil
}

// ListOptions controls pagination and filtering for Store.List.
type ListOptions struct {
	PathPrefix      string
	PathContains    string
	Extensions      []string // normalized: trimmed, lowercased
	ContentContains string
	IsBinary        *bool
	IncludeDeleted  bool
	Limit           int
	Offset          int
}

// Normalize clamps pagination fields to their spec-mandated bounds and
// trims and lowercases each extension token.
func (o *ListOptions) Normalize() {
	for i, e := range o.Extensions {
		o.Extensions[i] = strings.ToLower(strings.TrimSpace(e))
	}
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ListResult is the page returned by Store.List.
type ListResult struct {
	Files  []*FileRecord
	Total  int
	Limit  int
	Offset int
}

// MutationOutcome is the result shape shared by the store operations
// that report whether they created/resurrected a record.
type MutationOutcome struct {
	Record  *FileRecord
	Created bool
}

// DeleteOutcome reports whether a soft-delete actually affected a row.
type DeleteOutcome struct {
	Deleted bool
}

// EventType names an inbound or outbound channel event.
type EventType string

const (
	EventCreatedFile  EventType = "created-file"
	EventModifiedFile EventType = "modified-file"
	EventDeletedFile  EventType = "deleted-file"
	EventRenamedFile  EventType = "renamed-file"

	EventFileCreated EventType = "file-created"
	EventFileModified EventType = "file-modified"
	EventFileDeleted EventType = "file-deleted"
	EventFileRenamed EventType = "file-renamed"
)

// FileCreatedPayload is broadcast when a record is created or
// resurrected.
type FileCreatedPayload struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	IsBinary  bool   `json:"isBinary"`
	Extension string `json:"extension,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// FileModifiedPayload is broadcast on in-place content mutation.
type FileModifiedPayload struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	IsBinary  bool   `json:"isBinary"`
	Extension string `json:"extension,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

// FileDeletedPayload is broadcast on a successful soft-delete.
type FileDeletedPayload struct {
	Path      string `json:"path"`
	DeletedAt string `json:"deletedAt"`
}

// FileRenamedPayload is broadcast when rename mutates an existing row
// in place (Created == false in the rename outcome).
type FileRenamedPayload struct {
	OldPath   string `json:"oldPath"`
	NewPath   string `json:"newPath"`
	Content   string `json:"content"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	IsBinary  bool   `json:"isBinary"`
	Extension string `json:"extension,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}
