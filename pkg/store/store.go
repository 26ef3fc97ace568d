package store

import (
	"context"
	"time"

	"github.com/nimbusfs/syncd/pkg/types"
)

// Store is the tenant-scoped persistence interface for files,
// credentials, and tenants. All file operations are implicitly scoped
// to the tenantID argument; there is no cross-tenant read path.
type Store interface {
	// Files (C3)
	Get(ctx context.Context, tenantID, path string) (*types.FileRecord, error)
	GetIncludingTombstones(ctx context.Context, tenantID, path string) (*types.FileRecord, error)
	CreateEmpty(ctx context.Context, tenantID, path string) (types.MutationOutcome, error)
	CreateStrict(ctx context.Context, tenantID, path, content string) (*types.FileRecord, error)
	Upsert(ctx context.Context, tenantID, path, content string) (types.MutationOutcome, error)
	SoftDelete(ctx context.Context, tenantID, path string) (types.DeleteOutcome, error)
	SoftDeleteAll(ctx context.Context, tenantID string) (int, error)
	Rename(ctx context.Context, tenantID, oldPath, newPath string) (types.MutationOutcome, error)
	CleanupExpired(ctx context.Context) (int, error)

	// Query engine (C4)
	List(ctx context.Context, tenantID string, opts types.ListOptions) (types.ListResult, error)

	// Credentials (C1 support, admin-facing)
	GetCredentialByHash(ctx context.Context, hash string) (*types.Credential, error)
	GetCredential(ctx context.Context, id string) (*types.Credential, error)
	ListCredentials(ctx context.Context, tenantID string) ([]*types.Credential, error)
	CreateCredential(ctx context.Context, cred *types.Credential) error
	RevokeCredential(ctx context.Context, id string) error
	TouchCredentialLastUsed(ctx context.Context, credentialID string, at time.Time) error

	// Tenants (admin-facing)
	CreateTenant(ctx context.Context, tenant *types.Tenant) error
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	ListTenants(ctx context.Context) ([]*types.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error

	Close()
}

// TombstoneTTL is the duration between soft-delete and eligibility for
// permanent removal (spec.md Glossary).
const TombstoneTTL = 30 * 24 * time.Hour

// emptyContentHash is the hash of the empty string, used on every
// tombstone.
func emptyContentHash() string {
	return hashContent("")
}
