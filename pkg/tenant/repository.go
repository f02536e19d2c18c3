package tenant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/StricklySoft/tenantauth/pkg/models"
)

// Repository is the persistence collaborator behind the store. It is the
// source of truth for tenant policies.
type Repository interface {
	// GetTenantPolicy returns the stored policy, or nil and no error when
	// the tenant does not exist.
	GetTenantPolicy(ctx context.Context, tenantID string) (*models.TenantPolicy, error)
	// UpsertTenantPolicy inserts or replaces the policy.
	UpsertTenantPolicy(ctx context.Context, policy *models.TenantPolicy) error
	// ListActiveTenantIDs returns the ids of active tenants in ascending
	// order.
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
	// TouchLastAccess records the most recent successful verification.
	TouchLastAccess(ctx context.Context, tenantID string, at time.Time) error
}

// MemoryRepository is a process-local [Repository] for tests and
// single-node deployments seeded from configuration.
type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[string]*models.TenantPolicy
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns a repository holding copies of seed.
func NewMemoryRepository(seed ...*models.TenantPolicy) *MemoryRepository {
	r := &MemoryRepository{policies: make(map[string]*models.TenantPolicy, len(seed))}
	for _, p := range seed {
		r.policies[p.TenantID] = p.Clone()
	}
	return r
}

func (r *MemoryRepository) GetTenantPolicy(_ context.Context, tenantID string) (*models.TenantPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[tenantID].Clone(), nil
}

func (r *MemoryRepository) UpsertTenantPolicy(_ context.Context, policy *models.TenantPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := policy.Clone()
	if prev, ok := r.policies[policy.TenantID]; ok {
		cp.CreatedAt = prev.CreatedAt
		if cp.LastAccess == nil {
			cp.LastAccess = prev.LastAccess
		}
	}
	r.policies[policy.TenantID] = cp
	return nil
}

func (r *MemoryRepository) ListActiveTenantIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.policies))
	for id, p := range r.policies {
		if p.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) TouchLastAccess(_ context.Context, tenantID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[tenantID]; ok && (p.LastAccess == nil || at.After(*p.LastAccess)) {
		t := at.UTC()
		p.LastAccess = &t
	}
	return nil
}
