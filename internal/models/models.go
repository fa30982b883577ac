package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ServiceType is the kind of roadside help a customer is asking for.
type ServiceType string

const (
	ServiceBattery ServiceType = "battery"
	ServiceTire    ServiceType = "tire"
	ServiceFuel    ServiceType = "fuel"
	ServiceLockout ServiceType = "lockout"
	ServiceTowing  ServiceType = "towing"
	ServiceOther   ServiceType = "other"
)

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceBattery, ServiceTire, ServiceFuel, ServiceLockout, ServiceTowing, ServiceOther:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusAccepted   RequestStatus = "accepted"
	StatusEnRoute    RequestStatus = "en_route"
	StatusArrived    RequestStatus = "arrived"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether the status ends the request lifecycle. A customer
// may only hold one non-terminal request at a time.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ServiceRequest is a customer's call for help. MechanicID stays empty while
// the request is pending; once set it never reverts.
type ServiceRequest struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customer_id"`
	ServiceType ServiceType   `json:"service_type"`
	Customer    Coord         `json:"customer_location"`
	Status      RequestStatus `json:"status"`
	MechanicID  string        `json:"mechanic_id,omitempty"`
	MechanicLoc *Coord        `json:"mechanic_location,omitempty"`
	ETAMinutes  int           `json:"eta_minutes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Mechanic is the directory's read-only view of a provider.
type Mechanic struct {
	UserID          string    `json:"user_id"`
	BusinessName    string    `json:"business_name"`
	Rating          float64   `json:"rating"` // 0..5
	TotalReviews    int       `json:"total_reviews"`
	Loc             *Coord    `json:"loc,omitempty"`
	Available       bool      `json:"available"`
	Verified        bool      `json:"verified"`
	Specializations []string  `json:"specializations,omitempty"`
	Updated         time.Time `json:"updated"`
}

// Eligible reports whether the mechanic may be offered work at all:
// available, verified, and with a known location.
func (m Mechanic) Eligible() bool {
	return m.Available && m.Verified && m.Loc != nil
}

func (m Mechanic) HasSpecialization(t ServiceType) bool {
	for _, s := range m.Specializations {
		if s == string(t) {
			return true
		}
	}
	return false
}

// Assignment is the patch a successful allocation applies to a request.
type Assignment struct {
	MechanicID  string `json:"mechanic_id"`
	MechanicLoc Coord  `json:"mechanic_location"`
	ETAMinutes  int    `json:"eta_minutes"`
}
