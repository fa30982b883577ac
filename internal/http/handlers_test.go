package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/models"
)

// newTestServer wires a server with all in-memory collaborators and the
// insecure resolver, so the bearer token doubles as the user id.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		MaxRadiusKm:     50,
		RateLimitMax:    3,
		RateLimitWindow: time.Minute,
		AuthMode:        "insecure",
	}
	s, err := NewServer(cfg, logging.NewLogger("test", "error"))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func seedMechanic(t *testing.T, s *Server, id string, lat, lng float64, specs ...string) {
	t.Helper()
	loc := models.Coord{Lat: lat, Lng: lng}
	err := s.Roster.Upsert(context.Background(), models.Mechanic{
		UserID: id, BusinessName: id + " Garage", Available: true, Verified: true,
		Loc: &loc, Specializations: specs,
	})
	if err != nil {
		t.Fatalf("seed mechanic: %v", err)
	}
}

func seedRequest(t *testing.T, s *Server, id, customer string) {
	t.Helper()
	err := s.Store.CreateRequest(context.Background(), &models.ServiceRequest{
		ID: id, CustomerID: customer, ServiceType: models.ServiceBattery,
		Customer: models.Coord{Lat: 12.9716, Lng: 77.5946}, Status: models.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
}

func allocateBody(id string) map[string]any {
	return map[string]any{
		"request_id":   id,
		"customer_lat": 12.9716,
		"customer_lng": 77.5946,
		"service_type": "battery",
	}
}

func TestAllocateRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "", allocateBody("r1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAllocateInvalidCoordinates(t *testing.T) {
	s := newTestServer(t)
	body := allocateBody("r1")
	body["customer_lat"] = 91.0
	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u1", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAllocateUnknownRequest(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u1", allocateBody("missing"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAllocateForbiddenForNonOwner(t *testing.T) {
	s := newTestServer(t)
	seedRequest(t, s, "r1", "owner")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "intruder", allocateBody("r1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAllocateHappyPath(t *testing.T) {
	s := newTestServer(t)
	seedRequest(t, s, "r1", "u1")
	seedMechanic(t, s, "m1", 12.98, 77.60, "battery")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u1", allocateBody("r1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp allocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.MechanicID != "m1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ETAMinutes < 5 || resp.ETAMinutes > 180 {
		t.Fatalf("eta out of bounds: %d", resp.ETAMinutes)
	}
}

func TestAllocateNoMechanicsIsA200DomainOutcome(t *testing.T) {
	s := newTestServer(t)
	seedRequest(t, s, "r1", "u1")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u1", allocateBody("r1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp allocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Reason != "no_mechanics" {
		t.Fatalf("expected no_mechanics outcome, got %+v", resp)
	}
}

func TestAllocateRateLimitAfterThreeAttempts(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u1", allocateBody("missing"))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("call %d: expected 404, got %d", i+1, rec.Code)
		}
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u1", allocateBody("missing"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
	// another user is unaffected
	rec = doJSON(t, s, http.MethodPost, "/api/v1/requests/allocate", "u2", allocateBody("missing"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for u2, got %d", rec.Code)
	}
}

func TestCreateRequestAndConflictOnSecond(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"service_type": "towing", "lat": 12.9716, "lng": 77.5946}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/requests", "u1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created models.ServiceRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != models.StatusPending || created.CustomerID != "u1" {
		t.Fatalf("unexpected request: %+v", created)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/requests", "u1", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second active request, got %d", rec.Code)
	}
}

func TestHeartbeatUpsertsRoster(t *testing.T) {
	s := newTestServer(t)
	hb := map[string]any{
		"user_id": "m1", "business_name": "M1 Garage",
		"loc": map[string]any{"lat": 12.98, "lng": 77.60},
		"available": true, "verified": true,
	}
	rec := doJSON(t, s, http.MethodPost, "/internal/mechanic/locations", "", hb)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	got, err := s.Roster.ListAvailableVerified(context.Background())
	if err != nil || len(got) != 1 || got[0].UserID != "m1" {
		t.Fatalf("roster not updated: %+v, %v", got, err)
	}
}

func TestHeartbeatRejectsMissingLocation(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/internal/mechanic/locations", "", map[string]any{"user_id": "m1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNearbyMechanicsSortedAndCapped(t *testing.T) {
	s := newTestServer(t)
	seedMechanic(t, s, "near", 12.98, 77.60)
	seedMechanic(t, s, "far", 13.20, 77.80)
	seedMechanic(t, s, "out-of-range", 14.50, 79.00)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/mechanics/nearby?lat=12.9716&lng=77.5946", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data []nearbyMechanic `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 in-range mechanics, got %d", len(resp.Data))
	}
	if resp.Data[0].UserID != "near" || resp.Data[1].UserID != "far" {
		t.Fatalf("expected distance order, got %+v", resp.Data)
	}
}

func TestNearbyMechanicsRequiresCoordinates(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/mechanics/nearby", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
