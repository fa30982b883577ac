// Package allocator assigns the best available mechanic to a pending
// service request: validate, rate limit, rank candidates by distance with a
// soft specialization preference, then commit the assignment with a single
// conditional write so concurrent attempts resolve to exactly one winner.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/eta"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/ratelimit"
	"github.com/example/roadside-dispatch/internal/storage"
)

// DefaultMaxRadiusKm bounds how far a mechanic may be from the customer.
const DefaultMaxRadiusKm = 50.0

var (
	ErrNotFound  = errors.New("service request not found")
	ErrForbidden = errors.New("requester does not own this service request")
)

type InvalidInputError struct {
	Field  string
	Detail string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds the delay up so a client honoring it never
// retries inside the same window.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Reason classifies outcomes that did not produce a fresh assignment. These
// are expected branches of normal operation, not errors.
type Reason string

const (
	ReasonNoMechanics      Reason = "no_mechanics"
	ReasonAlreadyProcessed Reason = "already_processed"
	ReasonConcurrentUpdate Reason = "concurrent_update"
	ReasonWrongStatus      Reason = "wrong_status"
)

// Outcome is the result of one allocation attempt. Success with
// Idempotent=true means the request already had a mechanic and the call was
// a safe retry.
type Outcome struct {
	Success      bool
	Idempotent   bool
	Reason       Reason
	Message      string
	MechanicID   string
	MechanicName string
	DistanceKm   float64
	ETAMinutes   int
}

// Request is the validated allocation input. RequesterID comes from the
// authenticated boundary, never from the request body.
type Request struct {
	RequestID   string
	RequesterID string
	Customer    models.Coord
	ServiceType models.ServiceType
}

// Notifier pushes the assignment to the chosen mechanic, best effort.
type Notifier interface {
	AssignmentCreated(requestID string, customer models.Coord, a models.Assignment) error
}

type Service struct {
	Store       storage.RequestStore
	Directory   directory.Directory
	Limiter     ratelimit.Limiter
	Notifier    Notifier // optional
	MaxRadiusKm float64  // defaults to DefaultMaxRadiusKm when <= 0
}

// Allocate runs the full decision: preconditions, rate limit, ownership and
// idempotency checks, candidate ranking, and the conditional commit.
// Domain-level outcomes (no mechanics, lost race, wrong status) come back on
// the Outcome; the error return is reserved for caller errors and
// infrastructure failures.
func (s *Service) Allocate(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	defer func() {
		observability.AllocationLatency.Observe(time.Since(start).Seconds())
	}()

	if err := validate(req); err != nil {
		return Outcome{}, err
	}

	if s.Limiter != nil {
		d, err := s.Limiter.Allow(ctx, req.RequesterID)
		if err != nil {
			return Outcome{}, fmt.Errorf("rate limiter: %w", err)
		}
		if !d.Allowed {
			observability.AllocationsTotal.WithLabelValues("rate_limited").Inc()
			return Outcome{}, &RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}

	sr, err := s.Store.GetRequest(ctx, req.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Outcome{}, ErrNotFound
		}
		return Outcome{}, fmt.Errorf("fetch request: %w", err)
	}
	if sr.CustomerID != req.RequesterID {
		return Outcome{}, ErrForbidden
	}
	if sr.MechanicID != "" {
		// Safe retry: the request already has its mechanic.
		observability.AllocationsTotal.WithLabelValues("idempotent").Inc()
		return Outcome{
			Success:    true,
			Idempotent: true,
			MechanicID: sr.MechanicID,
			ETAMinutes: sr.ETAMinutes,
			Message:    "mechanic already assigned",
		}, nil
	}
	if sr.Status != models.StatusPending {
		observability.AllocationsTotal.WithLabelValues("wrong_status").Inc()
		return Outcome{
			Reason:  ReasonWrongStatus,
			Message: fmt.Sprintf("request is %s, cannot allocate mechanic", sr.Status),
		}, nil
	}

	candidates, err := s.Directory.ListAvailableVerified(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list mechanics: %w", err)
	}

	best, ok := s.pick(candidates, req.Customer, req.ServiceType)
	if !ok {
		observability.AllocationsTotal.WithLabelValues("no_mechanics").Inc()
		return Outcome{
			Reason:  ReasonNoMechanics,
			Message: "no mechanics available in your area, please try again later",
		}, nil
	}

	etaMinutes := eta.Minutes(best.distanceKm)
	assignment := models.Assignment{
		MechanicID:  best.m.UserID,
		MechanicLoc: *best.m.Loc,
		ETAMinutes:  etaMinutes,
	}
	affected, err := s.Store.AssignMechanic(ctx, req.RequestID, assignment)
	if err != nil {
		return Outcome{}, fmt.Errorf("assign mechanic: %w", err)
	}
	if affected == 0 {
		return s.classifyLostRace(ctx, req.RequestID)
	}

	if s.Notifier != nil {
		_ = s.Notifier.AssignmentCreated(req.RequestID, req.Customer, assignment) // best-effort
	}
	observability.AllocationsTotal.WithLabelValues("assigned").Inc()
	return Outcome{
		Success:      true,
		MechanicID:   best.m.UserID,
		MechanicName: best.m.BusinessName,
		DistanceKm:   geo.Round2(best.distanceKm),
		ETAMinutes:   etaMinutes,
	}, nil
}

// classifyLostRace explains a conditional commit that touched zero rows. A
// re-read distinguishes "someone else won" from "the status moved on"; if
// neither holds the caller may simply retry.
func (s *Service) classifyLostRace(ctx context.Context, requestID string) (Outcome, error) {
	observability.AllocationsTotal.WithLabelValues("lost_race").Inc()
	cur, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return Outcome{
			Reason:  ReasonConcurrentUpdate,
			Message: "request was updated concurrently, please retry",
		}, nil
	}
	switch {
	case cur.MechanicID != "":
		return Outcome{
			Reason:     ReasonAlreadyProcessed,
			MechanicID: cur.MechanicID,
			Message:    "a concurrent attempt already assigned a mechanic",
		}, nil
	case cur.Status != models.StatusPending:
		return Outcome{
			Reason:  ReasonWrongStatus,
			Message: fmt.Sprintf("request is %s, cannot allocate mechanic", cur.Status),
		}, nil
	default:
		return Outcome{
			Reason:  ReasonConcurrentUpdate,
			Message: "request was updated concurrently, please retry",
		}, nil
	}
}

type ranked struct {
	m          models.Mechanic
	distanceKm float64
}

// pick ranks eligible candidates by distance within the radius and applies
// the soft specialization preference: the nearest specialist wins if one is
// in range, otherwise the nearest candidate overall.
func (s *Service) pick(candidates []models.Mechanic, at models.Coord, t models.ServiceType) (ranked, bool) {
	radius := s.MaxRadiusKm
	if radius <= 0 {
		radius = DefaultMaxRadiusKm
	}
	inRange := make([]ranked, 0, len(candidates))
	for _, m := range candidates {
		if !m.Eligible() {
			continue
		}
		d := geo.DistanceKm(at.Lat, at.Lng, m.Loc.Lat, m.Loc.Lng)
		if d > radius {
			continue
		}
		inRange = append(inRange, ranked{m: m, distanceKm: d})
	}
	if len(inRange) == 0 {
		return ranked{}, false
	}
	sort.Slice(inRange, func(i, j int) bool { return inRange[i].distanceKm < inRange[j].distanceKm })
	for _, r := range inRange {
		if r.m.HasSpecialization(t) {
			return r, true
		}
	}
	return inRange[0], true
}

func validate(req Request) error {
	if strings.TrimSpace(req.RequestID) == "" {
		return &InvalidInputError{Field: "request_id", Detail: "must not be empty"}
	}
	if req.RequesterID == "" {
		return &InvalidInputError{Field: "requester_id", Detail: "must not be empty"}
	}
	// the negated comparisons also reject NaN
	if !(req.Customer.Lat >= -90 && req.Customer.Lat <= 90) {
		return &InvalidInputError{Field: "customer_lat", Detail: "must be within [-90, 90]"}
	}
	if !(req.Customer.Lng >= -180 && req.Customer.Lng <= 180) {
		return &InvalidInputError{Field: "customer_lng", Detail: "must be within [-180, 180]"}
	}
	if !req.ServiceType.Valid() {
		return &InvalidInputError{Field: "service_type", Detail: fmt.Sprintf("unknown service type %q", string(req.ServiceType))}
	}
	return nil
}
