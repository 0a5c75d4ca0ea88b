package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/auth"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/db"
)

// simulate fires concurrent booking attempts at a small set of hot slots and
// verifies that each slot ends up with at most one active appointment.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	PatientLimit int
	HotSlots     int
	PostgresDSN  string
	JWTSecret    string
}

type hotSlot struct {
	DoctorID uuid.UUID
	Date     string
	Start    string
	Mode     string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(pct int) int {
		i := len(latencies) * pct / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	patients, err := loadPatients(ctx, pool, cfg.PatientLimit)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	slots, err := loadFreeSlots(ctx, pool, cfg.HotSlots)
	if err != nil {
		log.Fatalf("load free slots: %v", err)
	}
	if len(patients) == 0 || len(slots) == 0 {
		log.Fatal("need seeded patients and free slots, run cmd/seed first")
	}

	log.Printf("loaded %d patients, hammering %d hot slots with %d workers for %s",
		len(patients), len(slots), cfg.Workers, cfg.Duration)

	tokens := mintTokens(cfg.JWTSecret, patients)

	var metrics OperationMetrics
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, stop := context.WithTimeout(context.Background(), cfg.Duration)
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				i := rng.Intn(len(patients))
				slot := slots[rng.Intn(len(slots))]
				attemptBooking(runCtx, client, cfg.APIBaseURL, tokens[patients[i]], slot, &metrics)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	avg, p50, p95 := metrics.Stats()
	log.Printf("bookings: total=%d success=%d conflict=%d error=%d",
		metrics.Total, metrics.Success, metrics.Conflict, metrics.Error)
	log.Printf("latency: avg=%s p50=%s p95=%s", avg, p50, p95)

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer verifyCancel()
	if err := verifyNoDoubleBooking(verifyCtx, pool); err != nil {
		log.Fatalf("consistency check failed: %v", err)
	}
	log.Println("consistency check passed: no slot has more than one active appointment")
}

func attemptBooking(ctx context.Context, client *http.Client, baseURL, token string, slot hotSlot, metrics *OperationMetrics) {
	body, _ := json.Marshal(map[string]any{
		"doctor_id": slot.DoctorID.String(),
		"date":      slot.Date,
		"time":      slot.Start,
		"mode":      slot.Mode,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(latency, false, false)
		}
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	metrics.Record(latency, resp.StatusCode == http.StatusCreated, resp.StatusCode == http.StatusConflict)
}

func loadPatients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadFreeSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]hotSlot, error) {
	rows, err := pool.Query(ctx, `
		SELECT s.doctor_id, s.slot_date, s.start_time, s.mode
		FROM time_slots s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE s.booked = false AND d.available = true
		ORDER BY s.slot_date, s.start_time
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []hotSlot
	for rows.Next() {
		var s hotSlot
		var date time.Time
		if err := rows.Scan(&s.DoctorID, &date, &s.Start, &s.Mode); err != nil {
			return nil, err
		}
		s.Date = date.Format("2006-01-02")
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func mintTokens(secret string, patients []uuid.UUID) map[uuid.UUID]string {
	manager := auth.NewManager(secret, time.Hour)
	tokens := make(map[uuid.UUID]string, len(patients))
	for _, id := range patients {
		token, err := manager.Issue(booking.Principal{ID: id, Role: booking.RolePatient})
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		tokens[id] = token
	}
	return tokens
}

func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) error {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM appointments
			WHERE status IN ('scheduled', 'confirmed')
			GROUP BY slot_id
			HAVING count(*) > 1
		) v
	`).Scan(&violations)
	if err != nil {
		return err
	}
	if violations > 0 {
		return fmt.Errorf("%d slots have more than one active appointment", violations)
	}
	return nil
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 50),
		PatientLimit: getInt("SIM_PATIENTS", 500),
		HotSlots:     getInt("SIM_HOT_SLOTS", 10),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
