// Package memory implements internal/repo's three interfaces in process
// memory, seeded from config at startup. The records are injected at
// construction rather than looked up from a database, so the whole
// pipeline runs standalone.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/wayfare-ai/llmgateway/internal/repo"
	"github.com/wayfare-ai/llmgateway/internal/routing"
)

// ModelRepo is an in-memory routing.ModelMapping / routing.ProviderMapping
// store. Reads dominate after startup.
type ModelRepo struct {
	mu               sync.RWMutex
	mappings         map[string]routing.ModelMapping
	providerMappings map[string][]routing.ProviderMapping
}

// NewModelRepo builds a ModelRepo from already-constructed records (e.g.
// decoded from the gateway's YAML config by internal/config).
func NewModelRepo(mappings []routing.ModelMapping, providerMappings []routing.ProviderMapping) *ModelRepo {
	r := &ModelRepo{
		mappings:         make(map[string]routing.ModelMapping, len(mappings)),
		providerMappings: make(map[string][]routing.ProviderMapping),
	}
	for _, m := range mappings {
		r.mappings[m.RequestedModel] = m
	}
	for _, pm := range providerMappings {
		r.providerMappings[pm.RequestedModel] = append(r.providerMappings[pm.RequestedModel], pm)
	}
	for model, pms := range r.providerMappings {
		sorted := make([]routing.ProviderMapping, len(pms))
		copy(sorted, pms)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Priority != sorted[j].Priority {
				return sorted[i].Priority < sorted[j].Priority
			}
			return sorted[i].ID < sorted[j].ID
		})
		r.providerMappings[model] = sorted
	}
	return r
}

func (r *ModelRepo) GetMapping(_ context.Context, requestedModel string) (*routing.ModelMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[requestedModel]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *ModelRepo) GetProviderMappings(_ context.Context, requestedModel string, activeOnly bool) ([]routing.ProviderMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.providerMappings[requestedModel]
	if !activeOnly {
		out := make([]routing.ProviderMapping, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]routing.ProviderMapping, 0, len(all))
	for _, pm := range all {
		if pm.IsActive {
			out = append(out, pm)
		}
	}
	return out, nil
}

var _ repo.ModelRepo = (*ModelRepo)(nil)

// ProviderRepo is an in-memory routing.Provider store keyed by id.
type ProviderRepo struct {
	mu        sync.RWMutex
	providers map[int64]routing.Provider
}

func NewProviderRepo(providers []routing.Provider) *ProviderRepo {
	r := &ProviderRepo{providers: make(map[int64]routing.Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID] = p
	}
	return r
}

func (r *ProviderRepo) GetByID(_ context.Context, id int64) (*routing.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

var _ repo.ProviderRepo = (*ProviderRepo)(nil)

// LogRepo is an in-memory, append-only repo.RequestLog sink. Production
// deployments would swap this for a database-backed implementation behind
// the same interface; this one is enough to run the gateway standalone and
// to assert on in tests (see Entries).
type LogRepo struct {
	mu      sync.Mutex
	entries []repo.RequestLog
	cap     int
}

// NewLogRepo builds a LogRepo that retains at most capacity entries
// (oldest evicted first), so a long-running process doesn't grow this
// slice without bound. capacity <= 0 means unbounded.
func NewLogRepo(capacity int) *LogRepo {
	return &LogRepo{cap: capacity}
}

// Create appends entry. It accepts records with no RequestedModel — a
// request rejected before its body decoded still gets its one log record.
func (r *LogRepo) Create(_ context.Context, entry repo.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if r.cap > 0 && len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
	return nil
}

// Entries returns a snapshot of every record written so far, oldest first.
func (r *LogRepo) Entries() []repo.RequestLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repo.RequestLog, len(r.entries))
	copy(out, r.entries)
	return out
}

var _ repo.LogRepo = (*LogRepo)(nil)
