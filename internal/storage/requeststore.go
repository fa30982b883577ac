package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("service request not found")

	// ErrActiveRequestExists is returned by CreateRequest when the customer
	// already has a non-terminal request open.
	ErrActiveRequestExists = errors.New("customer already has an active request")
)

// RequestStore defines persistence for service requests. AssignMechanic is
// the concurrency primitive the whole allocator leans on: a single
// conditional write that applies only while the request is still pending and
// unassigned, returning the number of rows it touched.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	CreateRequest(ctx context.Context, r *models.ServiceRequest) error
	AssignMechanic(ctx context.Context, requestID string, a models.Assignment) (int64, error)
}

// MemoryStore keeps requests in a mutex-guarded map. It backs tests and
// single-process runs without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ServiceRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.ServiceRequest)}
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	if r.MechanicLoc != nil {
		loc := *r.MechanicLoc
		cp.MechanicLoc = &loc
	}
	return &cp, nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.CustomerID == r.CustomerID && !existing.Status.Terminal() {
			return ErrActiveRequestExists
		}
	}
	now := time.Now()
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	m.requests[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) AssignMechanic(_ context.Context, requestID string, a models.Assignment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return 0, nil
	}
	if r.Status != models.StatusPending || r.MechanicID != "" {
		return 0, nil
	}
	loc := a.MechanicLoc
	r.MechanicID = a.MechanicID
	r.MechanicLoc = &loc
	r.ETAMinutes = a.ETAMinutes
	r.Status = models.StatusAccepted
	r.UpdatedAt = time.Now()
	return 1, nil
}
