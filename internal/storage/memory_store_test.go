package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/example/roadside-dispatch/internal/models"
)

func pendingRequest(id, customer string) *models.ServiceRequest {
	return &models.ServiceRequest{
		ID:          id,
		CustomerID:  customer,
		ServiceType: models.ServiceBattery,
		Customer:    models.Coord{Lat: 12.97, Lng: 77.59},
		Status:      models.StatusPending,
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = models.StatusCancelled
	again, _ := s.GetRequest(ctx, "r1")
	if again.Status != models.StatusPending {
		t.Fatal("mutating a fetched request leaked into the store")
	}
}

func TestMemoryStoreSingleActiveRequestPerCustomer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRequest(ctx, pendingRequest("r2", "c1")); err != ErrActiveRequestExists {
		t.Fatalf("expected ErrActiveRequestExists, got %v", err)
	}
	// a different customer is unaffected
	if err := s.CreateRequest(ctx, pendingRequest("r3", "c2")); err != nil {
		t.Fatalf("create for c2: %v", err)
	}
}

func TestMemoryStoreAssignMechanicExactlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "c1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := int64(0)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := models.Assignment{MechanicID: "m" + string(rune('0'+i)), MechanicLoc: models.Coord{Lat: 1, Lng: 2}, ETAMinutes: 10}
			affected, err := s.AssignMechanic(ctx, "r1", a)
			if err != nil {
				t.Errorf("assign: %v", err)
				return
			}
			mu.Lock()
			total += affected
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if total != 1 {
		t.Fatalf("expected exactly one winning assignment, got %d", total)
	}
	r, _ := s.GetRequest(ctx, "r1")
	if r.Status != models.StatusAccepted || r.MechanicID == "" || r.MechanicLoc == nil {
		t.Fatalf("assignment not recorded: %+v", r)
	}
}

func TestMemoryStoreAssignMechanicRefusesNonPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := pendingRequest("r1", "c1")
	r.Status = models.StatusCancelled
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	affected, err := s.AssignMechanic(ctx, "r1", models.Assignment{MechanicID: "m1"})
	if err != nil || affected != 0 {
		t.Fatalf("expected no-op on cancelled request, got affected=%d err=%v", affected, err)
	}
}
