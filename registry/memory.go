package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry backed by a map guarded by a
// single mutex. Adequate for a single orchestrator instance; it does not
// survive process restart (§4.5's "need not be linearizable" allowance does
// not extend to durability, so production deployments should prefer
// SQLRegistry).
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]Record)}
}

func (r *MemoryRegistry) Upsert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.DroneUUID] = rec
	return nil
}

func (r *MemoryRegistry) GetResourceState(ctx context.Context, droneUUID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[droneUUID]
	if !ok {
		return "", false, nil
	}
	return rec.State, true, nil
}

func (r *MemoryRegistry) GetResources(ctx context.Context) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *MemoryRegistry) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		if rec.State == "DownState" && rec.LastSeen.Before(olderThan) {
			delete(r.records, id)
			removed++
		}
	}
	return removed, nil
}

var _ Registry = (*MemoryRegistry)(nil)
