package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		email := gofakeit.Email()
		phone := gofakeit.Phone()
		feeCents := gofakeit.Number(20, 150) * 100

		modes := []string{string(booking.ModeOffline)}
		if gofakeit.Bool() {
			modes = append(modes, string(booking.ModeOnline))
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, email, phone, modes, fee_cents, available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true, now(), now())
		`, id, name, spec, email, phone, modes, feeCents)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedSlots plays the external availability generator: each doctor gets a
// two-week plan of half-hour consultation slots.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding slots for %d doctors", len(doctorIDs))

	repo := booking.NewPgRepository(pool)
	source := booking.NewScheduleSource(repo)
	startDate := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")

	total := 0
	for _, doctorID := range doctorIDs {
		doctor, err := repo.GetDoctorByID(ctx, doctorID)
		if err != nil {
			return err
		}

		for _, mode := range doctor.Modes {
			dayStart := "09:00"
			dayEnd := "13:00"
			if mode == booking.ModeOnline {
				dayStart = "14:00"
				dayEnd = "17:00"
			}

			slots, err := source.CreateSlots(ctx, doctorID, booking.SchedulePlan{
				StartDate:   startDate,
				Days:        14,
				DayStart:    dayStart,
				DayEnd:      dayEnd,
				SlotMinutes: 30,
				Mode:        mode,
			})
			if err != nil {
				return err
			}
			total += len(slots)
		}
	}

	log.Printf("slots seeded: %d", total)
	return nil
}
