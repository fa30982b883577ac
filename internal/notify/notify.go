// Package notify pushes assignment events to connected mechanic apps.
// Delivery is best effort; the allocation itself never depends on it.
package notify

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/roadside-dispatch/internal/models"
)

var ErrNoSession = errors.New("no websocket session for mechanic")

type assignmentEvent struct {
	Type       string       `json:"type"`
	RequestID  string       `json:"request_id"`
	ETAMinutes int          `json:"eta_minutes"`
	Customer   models.Coord `json:"customer_location"`
}

// WSSession is one connected mechanic. Writes are serialized per connection.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry tracks mechanic sessions keyed by user id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(mechanicID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[mechanicID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(mechanicID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, mechanicID)
}

// AssignmentCreated tells the assigned mechanic where the customer is.
// Returns ErrNoSession when the mechanic has no live connection.
func (r *WSRegistry) AssignmentCreated(requestID string, customer models.Coord, a models.Assignment) error {
	r.mu.RLock()
	s, ok := r.sessions[a.MechanicID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(assignmentEvent{
		Type:       "assignment",
		RequestID:  requestID,
		ETAMinutes: a.ETAMinutes,
		Customer:   customer,
	})
}
