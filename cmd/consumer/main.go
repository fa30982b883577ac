// The consumer keeps the Redis mechanic roster current: it reads heartbeat
// messages from Kafka and upserts them with retry, so API instances can
// answer allocation queries without talking to Kafka themselves.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total mechanic heartbeat messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	rosterUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_roster_updates_total",
		Help: "Total successful roster updates",
	})
	rosterErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_roster_errors_total",
		Help: "Total roster update errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, rosterUpdates, rosterErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := getenv("KAFKA_TOPIC", "mechanic-locations")
	group := getenv("KAFKA_GROUP", "roadside-dispatch-consumer")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	geoKey := getenv("REDIS_GEO_KEY", "mechanics_geo")

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	roster := directory.NewRedisRoster(rc, geoKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var mech models.Mechanic
		if err := json.Unmarshal(m.Value, &mech); err != nil || mech.UserID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid heartbeat message: %v", err)
			continue
		}

		if err := upsertWithRetry(ctx, roster, mech, 3, 200*time.Millisecond); err != nil {
			rosterErrors.Inc()
			log.Printf("roster update failed for mechanic=%s: %v", mech.UserID, err)
			continue
		}
		rosterUpdates.Inc()
	}
}

// RosterUpdater is the subset of roster operations the consumer needs,
// kept as an interface so the retry logic is testable.
type RosterUpdater interface {
	Upsert(ctx context.Context, m models.Mechanic) error
}

// upsertWithRetry retries transient roster failures with exponential backoff.
func upsertWithRetry(ctx context.Context, roster RosterUpdater, m models.Mechanic, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = roster.Upsert(ctx, m); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
