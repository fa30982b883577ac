package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/allocator"
	"github.com/example/roadside-dispatch/internal/auth"
	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/ingest"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/ratelimit"
	"github.com/example/roadside-dispatch/internal/storage"
)

type Server struct {
	Allocator *allocator.Service
	Store     storage.RequestStore
	Roster    directory.Roster
	Kafka     *ingest.KafkaProducer
	WSReg     *notify.WSRegistry
	Auth      auth.Resolver

	maxRadiusKm float64
	logger      *slog.Logger
	mux         *mux.Router
}

// NewServer wires the allocator and its collaborators from config: Redis
// roster and shared rate limiter when REDIS_ADDR is set, Postgres store when
// PG_DSN is set, Kafka heartbeat producer when brokers are given; in-memory
// fallbacks otherwise.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var roster directory.Roster
	if rdb != nil {
		roster = directory.NewRedisRoster(rdb, cfg.RedisGeoKey)
	} else {
		roster = directory.NewIndex()
	}

	var store storage.RequestStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedisFixedWindow(rdb, cfg.RateLimitMax, cfg.RateLimitWindow)
	} else {
		limiter = ratelimit.NewFixedWindow(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var resolver auth.Resolver
	if cfg.AuthMode == "insecure" {
		resolver = auth.StaticResolver{}
	} else {
		resolver = auth.NewClaimsResolver()
	}

	wsreg := notify.NewWSRegistry()
	alloc := &allocator.Service{
		Store:       store,
		Directory:   roster,
		Limiter:     limiter,
		Notifier:    wsreg,
		MaxRadiusKm: cfg.MaxRadiusKm,
	}

	s := &Server{
		Allocator:   alloc,
		Store:       store,
		Roster:      roster,
		Kafka:       kp,
		WSReg:       wsreg,
		Auth:        resolver,
		maxRadiusKm: cfg.MaxRadiusKm,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{mechanic_id}", s.handleWS)
	s.mux.HandleFunc("/internal/mechanic/locations", s.handleMechanicHeartbeat).Methods("POST")
	s.mux.HandleFunc("/api/v1/mechanics/nearby", s.handleNearbyMechanics).Methods("GET")

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/allocate", s.handleAllocate).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type allocateRequest struct {
	RequestID   string  `json:"request_id"`
	CustomerLat float64 `json:"customer_lat"`
	CustomerLng float64 `json:"customer_lng"`
	ServiceType string  `json:"service_type"`
}

type allocateResponse struct {
	Success      bool    `json:"success"`
	Reason       string  `json:"reason,omitempty"`
	Message      string  `json:"message,omitempty"`
	MechanicID   string  `json:"mechanic_id,omitempty"`
	MechanicName string  `json:"mechanic_name,omitempty"`
	DistanceKm   float64 `json:"distance_km,omitempty"`
	ETAMinutes   int     `json:"eta_minutes,omitempty"`
	Idempotent   bool    `json:"idempotent,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	requester := requesterFromContext(r.Context())
	var body allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "malformed JSON body"})
		return
	}

	out, err := s.Allocator.Allocate(r.Context(), allocator.Request{
		RequestID:   body.RequestID,
		RequesterID: requester,
		Customer:    models.Coord{Lat: body.CustomerLat, Lng: body.CustomerLng},
		ServiceType: models.ServiceType(body.ServiceType),
	})
	if err != nil {
		s.writeAllocateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResponse{
		Success:      out.Success,
		Reason:       string(out.Reason),
		Message:      out.Message,
		MechanicID:   out.MechanicID,
		MechanicName: out.MechanicName,
		DistanceKm:   out.DistanceKm,
		ETAMinutes:   out.ETAMinutes,
		Idempotent:   out.Idempotent,
	})
}

func (s *Server) writeAllocateError(w http.ResponseWriter, err error) {
	var invalid *allocator.InvalidInputError
	var limited *allocator.RateLimitedError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: invalid.Error()})
	case errors.As(err, &limited):
		secs := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "rate_limited",
			Message:    "please wait before trying again",
			RetryAfter: secs,
		})
	case errors.Is(err, allocator.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Message: "you do not own this service request"})
	case errors.Is(err, allocator.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "service request not found"})
	default:
		s.logger.Error("allocation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "something went wrong"})
	}
}

type createRequestBody struct {
	ServiceType string  `json:"service_type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	requester := requesterFromContext(r.Context())
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "malformed JSON body"})
		return
	}
	if !models.ServiceType(body.ServiceType).Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "unknown service type"})
		return
	}
	if !(body.Lat >= -90 && body.Lat <= 90) || !(body.Lng >= -180 && body.Lng <= 180) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "coordinates out of range"})
		return
	}

	now := time.Now()
	req := &models.ServiceRequest{
		ID:          newID(),
		CustomerID:  requester,
		ServiceType: models.ServiceType(body.ServiceType),
		Customer:    models.Coord{Lat: body.Lat, Lng: body.Lng},
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.CreateRequest(r.Context(), req); err != nil {
		if errors.Is(err, storage.ErrActiveRequestExists) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error:   "active_request_exists",
				Message: "you already have an open service request",
			})
			return
		}
		s.logger.Error("create request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// handleMechanicHeartbeat ingests a mechanic's location/availability ping:
// publish to Kafka when configured, and upsert the roster directly so
// single-instance runs work without the consumer.
func (s *Server) handleMechanicHeartbeat(w http.ResponseWriter, r *http.Request) {
	var m models.Mechanic
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "malformed JSON body"})
		return
	}
	if m.UserID == "" || m.Loc == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "user_id and loc are required"})
		return
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishHeartbeat(m); err != nil {
			s.logger.Warn("heartbeat publish failed", "mechanic_id", m.UserID, "error", err)
		}
	}
	if err := s.Roster.Upsert(r.Context(), m); err != nil {
		s.logger.Error("roster upsert failed", "mechanic_id", m.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	observability.HeartbeatsTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

type nearbyMechanic struct {
	UserID       string  `json:"user_id"`
	BusinessName string  `json:"business_name"`
	Rating       float64 `json:"rating"`
	TotalReviews int     `json:"total_reviews"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	DistanceKm   float64 `json:"distance_km"`
}

const nearbyLimit = 10

func (s *Server) handleNearbyMechanics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "lat and lng parameters required"})
		return
	}
	radius := s.maxRadiusKm
	if v := q.Get("radius"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			radius = f
		}
	}

	mechanics, err := s.Roster.ListAvailableVerified(r.Context())
	if err != nil {
		s.logger.Error("nearby query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	out := make([]nearbyMechanic, 0, len(mechanics))
	for _, m := range mechanics {
		d := geo.DistanceKm(lat, lng, m.Loc.Lat, m.Loc.Lng)
		if d > radius {
			continue
		}
		out = append(out, nearbyMechanic{
			UserID:       m.UserID,
			BusinessName: m.BusinessName,
			Rating:       m.Rating,
			TotalReviews: m.TotalReviews,
			Lat:          m.Loc.Lat,
			Lng:          m.Loc.Lng,
			DistanceKm:   geo.Round2(d),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > nearbyLimit {
		out = out[:nearbyLimit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["mechanic_id"]
	if id == "" {
		http.Error(w, "mechanic_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(id, conn)
	// drain the connection so we notice the close and drop the session
	go func() {
		defer func() {
			s.WSReg.Remove(id)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
