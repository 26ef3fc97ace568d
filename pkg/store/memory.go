package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusfs/syncd/pkg/apperr"
	"github.com/nimbusfs/syncd/pkg/types"
	"github.com/nimbusfs/syncd/pkg/validate"
)

// MemoryStore is an in-process Store used by unit and integration
// tests in place of PostgresStore. It implements the exact same
// create/resurrect/upsert/rename/tombstone semantics as the Postgres
// implementation, serialized behind a single mutex the way
// PostgresStore serializes per-(tenant,path) via the unique index.
type MemoryStore struct {
	mu sync.Mutex

	files       map[string]*types.FileRecord // key: tenantID + "\x00" + path
	credentials map[string]*types.Credential // key: credential id
	tenants     map[string]*types.Tenant     // key: tenant id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:       make(map[string]*types.FileRecord),
		credentials: make(map[string]*types.Credential),
		tenants:     make(map[string]*types.Tenant),
	}
}

func fileKey(tenantID, path string) string {
	return tenantID + "\x00" + path
}

func cloneRecord(r *types.FileRecord) *types.FileRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, path string) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.files[fileKey(tenantID, path)]
	if rec == nil || rec.IsTombstone() {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetIncludingTombstones(ctx context.Context, tenantID, path string) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecord(s.files[fileKey(tenantID, path)]), nil
}

func (s *MemoryStore) CreateEmpty(ctx context.Context, tenantID, path string) (types.MutationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey(tenantID, path)
	existing := s.files[key]
	now := time.Now()

	if existing != nil && !existing.IsTombstone() {
		return types.MutationOutcome{Record: cloneRecord(existing), Created: false}, nil
	}

	ext, isBinary := validate.Classify(path)
	if existing != nil {
		// Resurrect the tombstone in place.
		existing.Content = ""
		existing.Hash = emptyContentHash()
		existing.Size = 0
		existing.Extension = ext
		existing.IsBinary = isBinary
		existing.ExpiresAt = nil
		existing.UpdatedAt = now
		return types.MutationOutcome{Record: cloneRecord(existing), Created: true}, nil
	}

	rec := &types.FileRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Path:      path,
		Content:   "",
		Hash:      emptyContentHash(),
		Size:      0,
		Extension: ext,
		IsBinary:  isBinary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.files[key] = rec
	return types.MutationOutcome{Record: cloneRecord(rec), Created: true}, nil
}

func (s *MemoryStore) CreateStrict(ctx context.Context, tenantID, path, content string) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey(tenantID, path)
	existing := s.files[key]
	now := time.Now()

	if existing != nil && !existing.IsTombstone() {
		return nil, apperr.Conflict("a file already exists at this path")
	}

	ext, isBinary := validate.Classify(path)
	if existing != nil {
		existing.Content = content
		existing.Hash = hashContent(content)
		existing.Size = sizeOf(content)
		existing.Extension = ext
		existing.IsBinary = isBinary
		existing.ExpiresAt = nil
		existing.UpdatedAt = now
		return cloneRecord(existing), nil
	}

	rec := &types.FileRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Path:      path,
		Content:   content,
		Hash:      hashContent(content),
		Size:      sizeOf(content),
		Extension: ext,
		IsBinary:  isBinary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.files[key] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, tenantID, path, content string) (types.MutationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey(tenantID, path)
	existing := s.files[key]
	now := time.Now()
	ext, isBinary := validate.Classify(path)

	if existing != nil && !existing.IsTombstone() {
		existing.Content = content
		existing.Hash = hashContent(content)
		existing.Size = sizeOf(content)
		existing.Extension = ext
		existing.IsBinary = isBinary
		existing.UpdatedAt = now
		return types.MutationOutcome{Record: cloneRecord(existing), Created: false}, nil
	}

	if existing != nil {
		existing.Content = content
		existing.Hash = hashContent(content)
		existing.Size = sizeOf(content)
		existing.Extension = ext
		existing.IsBinary = isBinary
		existing.ExpiresAt = nil
		existing.UpdatedAt = now
		return types.MutationOutcome{Record: cloneRecord(existing), Created: true}, nil
	}

	rec := &types.FileRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Path:      path,
		Content:   content,
		Hash:      hashContent(content),
		Size:      sizeOf(content),
		Extension: ext,
		IsBinary:  isBinary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.files[key] = rec
	return types.MutationOutcome{Record: cloneRecord(rec), Created: true}, nil
}

// tombstoneLocked mutates rec in place into a tombstone. Caller must
// hold s.mu.
func tombstoneLocked(rec *types.FileRecord, now time.Time) {
	rec.Content = ""
	rec.Hash = emptyContentHash()
	rec.Size = 0
	exp := now.Add(TombstoneTTL)
	rec.ExpiresAt = &exp
	rec.UpdatedAt = now
}

func (s *MemoryStore) SoftDelete(ctx context.Context, tenantID, path string) (types.DeleteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.files[fileKey(tenantID, path)]
	if rec == nil || rec.IsTombstone() {
		return types.DeleteOutcome{Deleted: false}, nil
	}
	tombstoneLocked(rec, time.Now())
	return types.DeleteOutcome{Deleted: true}, nil
}

func (s *MemoryStore) SoftDeleteAll(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for k, rec := range s.files {
		if !strings.HasPrefix(k, tenantID+"\x00") {
			continue
		}
		if rec.IsTombstone() {
			continue
		}
		tombstoneLocked(rec, now)
		count++
	}
	return count, nil
}

func (s *MemoryStore) Rename(ctx context.Context, tenantID, oldPath, newPath string) (types.MutationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	oldKey := fileKey(tenantID, oldPath)
	newKey := fileKey(tenantID, newPath)

	source := s.files[oldKey]
	hasActiveSource := source != nil && !source.IsTombstone()

	if !hasActiveSource {
		// (a) soft-delete any active record at newPath
		if dest := s.files[newKey]; dest != nil && !dest.IsTombstone() {
			tombstoneLocked(dest, now)
		}
		// (b) resurrect a tombstone at newPath with empty content, or insert
		dest := s.files[newKey]
		ext, isBinary := validate.Classify(newPath)
		if dest != nil {
			dest.Content = ""
			dest.Hash = emptyContentHash()
			dest.Size = 0
			dest.Extension = ext
			dest.IsBinary = isBinary
			dest.ExpiresAt = nil
			dest.UpdatedAt = now
			return types.MutationOutcome{Record: cloneRecord(dest), Created: true}, nil
		}
		rec := &types.FileRecord{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Path:      newPath,
			Content:   "",
			Hash:      emptyContentHash(),
			Size:      0,
			Extension: ext,
			IsBinary:  isBinary,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.files[newKey] = rec
		return types.MutationOutcome{Record: cloneRecord(rec), Created: true}, nil
	}

	// Active source exists.
	// (a) soft-delete any active record at newPath
	if dest := s.files[newKey]; dest != nil && !dest.IsTombstone() {
		tombstoneLocked(dest, now)
	}
	// (b) permanently delete any tombstone at newPath to free the unique key
	delete(s.files, newKey)

	// (c) move the source record to newPath in place.
	ext, isBinary := validate.Classify(newPath)
	source.Path = newPath
	source.Extension = ext
	source.IsBinary = isBinary
	source.UpdatedAt = now
	delete(s.files, oldKey)
	s.files[newKey] = source

	return types.MutationOutcome{Record: cloneRecord(source), Created: false}, nil
}

func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for k, rec := range s.files {
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			delete(s.files, k)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string, opts types.ListOptions) (types.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts.Normalize()

	var extSet map[string]struct{}
	if len(opts.Extensions) > 0 {
		extSet = make(map[string]struct{}, len(opts.Extensions))
		for _, e := range opts.Extensions {
			extSet[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
		}
	}

	var matched []*types.FileRecord
	prefix := tenantID + "\x00"
	for k, rec := range s.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !opts.IncludeDeleted && rec.IsTombstone() {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(rec.Path, opts.PathPrefix) {
			continue
		}
		if opts.PathContains != "" && !strings.Contains(rec.Path, opts.PathContains) {
			continue
		}
		if extSet != nil {
			if _, ok := extSet[rec.Extension]; !ok {
				continue
			}
		}
		if opts.ContentContains != "" {
			if rec.IsBinary || !strings.Contains(strings.ToLower(rec.Content), strings.ToLower(opts.ContentContains)) {
				continue
			}
		}
		if opts.IsBinary != nil && rec.IsBinary != *opts.IsBinary {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Path < matched[j].Path })

	total := len(matched)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	page := make([]*types.FileRecord, 0, end-start)
	for _, rec := range matched[start:end] {
		summary := cloneRecord(rec)
		summary.Content = "" // list projection never includes content
		page = append(page, summary)
	}

	return types.ListResult{Files: page, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

func (s *MemoryStore) GetCredentialByHash(ctx context.Context, hash string) (*types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if c.Hash == hash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, id string) (*types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.credentials[id]
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCredentials(ctx context.Context, tenantID string) ([]*types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Credential
	for _, c := range s.credentials {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateCredential(ctx context.Context, cred *types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	cp := *cred
	s.credentials[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) RevokeCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.credentials[id]
	if c == nil {
		return apperr.NotFound("credential not found")
	}
	now := time.Now()
	c.RevokedAt = &now
	return nil
}

func (s *MemoryStore) TouchCredentialLastUsed(ctx context.Context, credentialID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.credentials[credentialID]
	if c == nil {
		return apperr.NotFound("credential not found")
	}
	c.LastUsedAt = &at
	return nil
}

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	cp := *tenant
	s.tenants[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenants[id]
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Tenant
	for _, t := range s.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteTenant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, id)
	for k := range s.files {
		if strings.HasPrefix(k, id+"\x00") {
			delete(s.files, k)
		}
	}
	for cid, c := range s.credentials {
		if c.TenantID == id {
			delete(s.credentials, cid)
		}
	}
	return nil
}

func (s *MemoryStore) Close() {}
