package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
	"github.com/hackgods/dialysis-scheduling/internal/config"
	"github.com/hackgods/dialysis-scheduling/internal/db"
	"github.com/hackgods/dialysis-scheduling/internal/observability"
)

var slots = []string{"06:00-10:00", "10:00-14:00", "14:00-18:00", "18:00-22:00"}

const (
	bedCount     = 8
	patientCount = 400
	daysBack     = 2
	daysAhead    = 30
)

type bedRow struct {
	id   uuid.UUID
	name string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.InitLogger("seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	if cfg.StoreDriver != config.StorePostgres {
		logger.Fatal().Str("store", cfg.StoreDriver).Msg("seed only supports STORE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	logger.Info().Msg("schema applied")

	faker := gofakeit.New(0)
	today := time.Now().In(cfg.ClinicLocation())

	beds, err := seedBeds(ctx, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed beds")
	}
	if err := seedSessions(ctx, pool, faker, today, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed sessions")
	}
	patients, err := seedPatients(ctx, pool, faker, patientCount, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedAppointments(ctx, pool, faker, cfg, today, beds, patients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedBeds(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) ([]bedRow, error) {
	logger.Info().Int("count", bedCount).Msg("seeding beds")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var working []bedRow
	for i := 1; i <= bedCount; i++ {
		name := fmt.Sprintf("B%02d", i)
		// the last bed is out of service
		isWorking := i < bedCount

		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO beds (id, name, is_working)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET is_working = EXCLUDED.is_working
			RETURNING id
		`, uuid.New(), name, isWorking).Scan(&id)
		if err != nil {
			return nil, err
		}
		if isWorking {
			working = append(working, bedRow{id: id, name: name})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return working, nil
}

func seedSessions(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, today time.Time, logger zerolog.Logger) error {
	logger.Info().Int("days", daysBack+daysAhead+1).Msg("seeding sessions")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for offset := -daysBack; offset <= daysAhead; offset++ {
		date := calendarDate(today.AddDate(0, 0, offset))
		for _, slot := range slots {
			// roughly one evening session in ten is cancelled
			active := slot != "18:00-22:00" || faker.Number(1, 10) > 1
			_, err := tx.Exec(ctx, `
				INSERT INTO sessions (id, session_date, slot, is_active)
				VALUES ($1, $2::date, $3, $4)
				ON CONFLICT (session_date, slot) DO NOTHING
			`, uuid.New(), date, slot, active)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, faker.Name(), faker.Email())
		if err != nil {
			return nil, err
		}

		// not every patient has installed the app
		if faker.Number(1, 10) <= 7 {
			_, err := tx.Exec(ctx, `
				INSERT INTO patient_devices (patient_id, fcm_token)
				VALUES ($1, $2)
			`, id, faker.UUID())
			if err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedAppointments books approved appointments around today, never exceeding
// the per-bed or per-slot capacity.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, cfg config.Config, today time.Time, beds []bedRow, patients []uuid.UUID, logger zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	for offset := -daysBack; offset <= 7; offset++ {
		date := calendarDate(today.AddDate(0, 0, offset))
		for _, slot := range slots {
			want := faker.Number(0, cfg.SlotCapacity)
			perBed := make(map[uuid.UUID]int, len(beds))
			booked := 0

			for _, bed := range beds {
				for perBed[bed.id] < cfg.BedCapacity && booked < want {
					status := appointment.StatusApproved
					if offset > 0 && faker.Number(1, 5) == 1 {
						status = appointment.StatusPending
					}
					_, err := tx.Exec(ctx, `
						INSERT INTO appointments (id, patient_id, appointment_date, slot, bed_id, status)
						VALUES ($1, $2, $3::date, $4, $5, $6)
					`, uuid.New(), patients[faker.Number(0, len(patients)-1)], date, slot, bed.id, string(status))
					if err != nil {
						return err
					}
					perBed[bed.id]++
					booked++
				}
			}
			total += booked
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Info().Int("count", total).Msg("appointments seeded")
	return nil
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
