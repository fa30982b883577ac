package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, customer_id, service_type, customer_lat, customer_lng, status,
		       mechanic_id, mechanic_lat, mechanic_lng, eta_minutes, created_at, updated_at
		FROM service_requests WHERE id = $1`, id)

	var r models.ServiceRequest
	var mechanicID sql.NullString
	var mechLat, mechLng sql.NullFloat64
	var eta sql.NullInt64
	err := row.Scan(&r.ID, &r.CustomerID, &r.ServiceType, &r.Customer.Lat, &r.Customer.Lng,
		&r.Status, &mechanicID, &mechLat, &mechLng, &eta, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if mechanicID.Valid {
		r.MechanicID = mechanicID.String
	}
	if mechLat.Valid && mechLng.Valid {
		r.MechanicLoc = &models.Coord{Lat: mechLat.Float64, Lng: mechLng.Float64}
	}
	if eta.Valid {
		r.ETAMinutes = int(eta.Int64)
	}
	return &r, nil
}

// CreateRequest inserts a pending request unless the customer already has an
// active one; the NOT EXISTS guard enforces the invariant in a single write.
func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO service_requests(id, customer_id, service_type, customer_lat, customer_lng, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM service_requests
			WHERE customer_id = $2 AND status NOT IN ('completed', 'cancelled')
		)`,
		r.ID, r.CustomerID, r.ServiceType, r.Customer.Lat, r.Customer.Lng, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrActiveRequestExists
	}
	return nil
}

// AssignMechanic is the compare-and-swap commit: the row is only updated
// while it is still pending and unassigned, so concurrent allocation
// attempts for the same request resolve to exactly one winner.
func (p *PostgresStore) AssignMechanic(ctx context.Context, requestID string, a models.Assignment) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests
		SET mechanic_id = $1, mechanic_lat = $2, mechanic_lng = $3,
		    status = 'accepted', eta_minutes = $4, updated_at = $5
		WHERE id = $6 AND status = 'pending' AND mechanic_id IS NULL`,
		a.MechanicID, a.MechanicLoc.Lat, a.MechanicLoc.Lng, a.ETAMinutes, time.Now(), requestID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
