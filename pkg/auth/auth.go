package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/nimbusfs/syncd/pkg/apperr"
	"github.com/nimbusfs/syncd/pkg/log"
	"github.com/nimbusfs/syncd/pkg/types"
)

const (
	adminPrefix  = "sk_admin_"
	tenantPrefix = "sk_store_"
)

// CredentialLookup is the slice of the store interface auth needs:
// hash-based lookup and a best-effort last-used touch. Kept narrow so
// pkg/auth doesn't import pkg/store.
type CredentialLookup interface {
	GetCredentialByHash(ctx context.Context, hash string) (*types.Credential, error)
	TouchCredentialLastUsed(ctx context.Context, credentialID string, at time.Time) error
}

// TaskSubmitter submits fire-and-forget background work (§5.3).
type TaskSubmitter interface {
	Submit(fn func(context.Context))
}

// Authenticator resolves bearer tokens to an Identity.
type Authenticator struct {
	store     CredentialLookup
	tasks     TaskSubmitter
	adminKey  string
}

// NewAuthenticator builds an Authenticator. adminKey is the configured
// process-wide admin plaintext (ADMIN_API_KEY); it may be empty, in
// which case admin auth always fails.
func NewAuthenticator(store CredentialLookup, tasks TaskSubmitter, adminKey string) *Authenticator {
	return &Authenticator{store: store, tasks: tasks, adminKey: adminKey}
}

// ClassifyKey returns the shape of a plaintext bearer token by prefix.
func ClassifyKey(plaintext string) types.KeyShape {
	switch {
	case strings.HasPrefix(plaintext, adminPrefix):
		return types.KeyShapeAdmin
	case strings.HasPrefix(plaintext, tenantPrefix):
		return types.KeyShapeTenant
	default:
		return types.KeyShapeUnknown
	}
}

// HashKey returns the lowercase hex SHA-256 digest of a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves a bearer token to an Identity. Every failure is
// UNAUTHORIZED: absent tokens carry the message "missing credential";
// malformed, non-matching and revoked tokens all carry "invalid key",
// so a revoked key is indistinguishable from a non-matching one to the
// caller.
func (a *Authenticator) Authenticate(ctx context.Context, plaintext string) (types.Identity, error) {
	if plaintext == "" {
		return types.Identity{}, apperr.Unauthorized("missing credential")
	}

	switch ClassifyKey(plaintext) {
	case types.KeyShapeAdmin:
		return a.authenticateAdmin(plaintext)
	case types.KeyShapeTenant:
		return a.authenticateTenant(ctx, plaintext)
	default:
		return types.Identity{}, apperr.Unauthorized("invalid key")
	}
}

func (a *Authenticator) authenticateAdmin(plaintext string) (types.Identity, error) {
	if a.adminKey == "" {
		return types.Identity{}, apperr.Unauthorized("invalid key")
	}
	if subtle.ConstantTimeCompare([]byte(plaintext), []byte(a.adminKey)) != 1 {
		return types.Identity{}, apperr.Unauthorized("invalid key")
	}
	return types.Identity{IsAdmin: true}, nil
}

func (a *Authenticator) authenticateTenant(ctx context.Context, plaintext string) (types.Identity, error) {
	hash := HashKey(plaintext)
	cred, err := a.store.GetCredentialByHash(ctx, hash)
	if err != nil {
		// Store unavailability surfaces as UNAUTHORIZED too, per
		// spec.md §7: don't leak backend health through auth.
		return types.Identity{}, apperr.Unauthorized("invalid key")
	}
	if cred == nil || cred.Revoked() {
		return types.Identity{}, apperr.Unauthorized("invalid key")
	}

	if a.tasks != nil {
		credID := cred.ID
		now := time.Now()
		a.tasks.Submit(func(ctx context.Context) {
			if err := a.store.TouchCredentialLastUsed(ctx, credID, now); err != nil {
				log.WithComponent("auth").Warn().Err(err).Str("credential_id", credID).Msg("lastUsedAt update failed")
			}
		})
	}

	return types.Identity{
		TenantID:     cred.TenantID,
		Permissions:  cred.Permissions,
		CredentialID: cred.ID,
	}, nil
}

// RequirePermission returns a FORBIDDEN error unless id carries perm.
// Admin identities always pass.
func RequirePermission(id types.Identity, perm types.Permission) error {
	if id.IsAdmin {
		return nil
	}
	if !types.HasPermission(id.Permissions, perm) {
		return apperr.Forbidden("missing required permission: " + string(perm))
	}
	return nil
}

// tenantKeyPrefix returns the first 6 hex characters of a dash-free
// tenant id, used to compose a generated key.
func tenantKeyPrefix(tenantID string) string {
	stripped := strings.ReplaceAll(tenantID, "-", "")
	if len(stripped) > 6 {
		stripped = stripped[:6]
	}
	return stripped
}

// GeneratedKey is the one-shot result of key generation: the plaintext
// is returned only here and never persisted.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// GenerateKey creates a new tenant-scoped bearer token per spec.md
// §4.1: 24 bytes of crypto/rand, base64url without padding, composed
// with the tenant id prefix.
func GenerateKey(tenantID string) (GeneratedKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return GeneratedKey{}, apperr.Internal("failed to generate key", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	plaintext := tenantPrefix + tenantKeyPrefix(tenantID) + "_" + secret

	prefix := plaintext
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}

	return GeneratedKey{
		Plaintext: plaintext,
		Hash:      HashKey(plaintext),
		Prefix:    prefix,
	}, nil
}
