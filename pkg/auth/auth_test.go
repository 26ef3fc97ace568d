package auth

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusfs/syncd/pkg/types"
)

type fakeStore struct {
	byHash map[string]*types.Credential
	touched []string
}

func (f *fakeStore) GetCredentialByHash(ctx context.Context, hash string) (*types.Credential, error) {
	return f.byHash[hash], nil
}

func (f *fakeStore) TouchCredentialLastUsed(ctx context.Context, credentialID string, at time.Time) error {
	f.touched = append(f.touched, credentialID)
	return nil
}

type syncTasks struct{}

func (syncTasks) Submit(fn func(context.Context)) { fn(context.Background()) }

func TestClassifyKey(t *testing.T) {
	if ClassifyKey("sk_admin_x") != types.KeyShapeAdmin {
		t.Error("expected admin shape")
	}
	if ClassifyKey("sk_store_abc123_x") != types.KeyShapeTenant {
		t.Error("expected tenant shape")
	}
	if ClassifyKey("garbage") != types.KeyShapeUnknown {
		t.Error("expected unknown shape")
	}
}

func TestAuthenticateAdmin(t *testing.T) {
	a := NewAuthenticator(&fakeStore{}, syncTasks{}, "sk_admin_secret")

	id, err := a.Authenticate(context.Background(), "sk_admin_secret")
	if err != nil || !id.IsAdmin {
		t.Fatalf("expected admin identity, got %+v err=%v", id, err)
	}

	if _, err := a.Authenticate(context.Background(), "sk_admin_wrong"); err == nil {
		t.Fatal("expected error for wrong admin key")
	}
}

func TestAuthenticateTenant(t *testing.T) {
	plaintext := "sk_store_abcdef_secret"
	store := &fakeStore{byHash: map[string]*types.Credential{
		HashKey(plaintext): {
			ID:          "cred-1",
			TenantID:    "tenant-1",
			Permissions: []types.Permission{types.PermissionRead, types.PermissionWrite},
		},
	}}
	a := NewAuthenticator(store, syncTasks{}, "")

	id, err := a.Authenticate(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.TenantID != "tenant-1" || id.CredentialID != "cred-1" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if len(store.touched) != 1 || store.touched[0] != "cred-1" {
		t.Errorf("expected lastUsedAt touch, got %v", store.touched)
	}
}

func TestAuthenticateRevoked(t *testing.T) {
	plaintext := "sk_store_abcdef_secret"
	now := time.Now()
	store := &fakeStore{byHash: map[string]*types.Credential{
		HashKey(plaintext): {ID: "cred-1", TenantID: "tenant-1", RevokedAt: &now},
	}}
	a := NewAuthenticator(store, syncTasks{}, "")

	if _, err := a.Authenticate(context.Background(), plaintext); err == nil {
		t.Fatal("expected error for revoked credential")
	}
}

func TestAuthenticateMissing(t *testing.T) {
	a := NewAuthenticator(&fakeStore{}, syncTasks{}, "")
	if _, err := a.Authenticate(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing credential")
	}
}

func TestGenerateKey(t *testing.T) {
	gk, err := GenerateKey("abcdef12-3456-7890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gk.Prefix) != 16 {
		t.Errorf("expected 16-character prefix, got %q (%d)", gk.Prefix, len(gk.Prefix))
	}
	if gk.Hash != HashKey(gk.Plaintext) {
		t.Error("hash mismatch")
	}

	// Round-trip: authenticating with the generated plaintext resolves.
	store := &fakeStore{byHash: map[string]*types.Credential{
		gk.Hash: {ID: "cred-2", TenantID: "abcdef12-3456-7890"},
	}}
	a := NewAuthenticator(store, syncTasks{}, "")
	id, err := a.Authenticate(context.Background(), gk.Plaintext)
	if err != nil || id.TenantID != "abcdef12-3456-7890" {
		t.Errorf("round-trip authenticate failed: id=%+v err=%v", id, err)
	}
}

func TestRequirePermission(t *testing.T) {
	id := types.Identity{Permissions: []types.Permission{types.PermissionRead}}
	if err := RequirePermission(id, types.PermissionRead); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := RequirePermission(id, types.PermissionWrite); err == nil {
		t.Error("expected forbidden error")
	}
	admin := types.Identity{IsAdmin: true}
	if err := RequirePermission(admin, types.PermissionWrite); err != nil {
		t.Errorf("admin should bypass permission check: %v", err)
	}
}
