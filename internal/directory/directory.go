// Package directory exposes the mechanic roster the allocator draws
// candidates from.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

// Directory is the read side consumed by the allocator: every mechanic that
// is available, verified, and has a known location.
type Directory interface {
	ListAvailableVerified(ctx context.Context) ([]models.Mechanic, error)
}

// Roster adds the write side used by the heartbeat ingest path.
type Roster interface {
	Directory
	Upsert(ctx context.Context, m models.Mechanic) error
}

// Index is an in-memory roster for single-instance runs and tests.
type Index struct {
	mu        sync.RWMutex
	mechanics map[string]models.Mechanic
}

func NewIndex() *Index {
	return &Index{mechanics: make(map[string]models.Mechanic)}
}

func (g *Index) Upsert(_ context.Context, m models.Mechanic) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m.Updated = time.Now()
	g.mechanics[m.UserID] = m
	return nil
}

func (g *Index) ListAvailableVerified(_ context.Context) ([]models.Mechanic, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Mechanic, 0, len(g.mechanics))
	for _, m := range g.mechanics {
		if !m.Eligible() {
			continue
		}
		if m.Loc != nil {
			loc := *m.Loc
			m.Loc = &loc
		}
		out = append(out, m)
	}
	return out, nil
}
