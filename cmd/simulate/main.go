package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
	"github.com/hackgods/dialysis-scheduling/internal/config"
	"github.com/hackgods/dialysis-scheduling/internal/notify"
	"github.com/hackgods/dialysis-scheduling/internal/observability"
)

var slots = []string{"06:00-10:00", "10:00-14:00", "14:00-18:00", "18:00-22:00"}

type SimConfig struct {
	Passes   int
	Beds     int
	Patients int
	Days     int
	Workers  int
	Seed     uint64
	Policy   string
	Start    time.Time
}

// countingNotifier logs each notification and counts deliveries.
type countingNotifier struct {
	next appointment.Notifier
	sent atomic.Int64
}

func (c *countingNotifier) Send(ctx context.Context, patientID uuid.UUID, title, body string) error {
	c.sent.Add(1)
	return c.next.Send(ctx, patientID, title, body)
}

type passTotals map[appointment.Outcome]int

func main() {
	logger := observability.InitLogger("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "warn"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Int("passes", cfg.Passes).
		Int("beds", cfg.Beds).
		Int("patients", cfg.Patients).
		Str("policy", cfg.Policy).
		Time("start", cfg.Start).
		Msg("simulator starting")

	faker := gofakeit.New(cfg.Seed)
	repo := buildFixture(faker, cfg)

	clock := cfg.Start
	notifier := &countingNotifier{next: notify.NewLogSender(logger)}
	svc := appointment.NewService(repo, notifier, config.Config{
		BedCapacity:       appointment.DefaultBedCapacity,
		SlotCapacity:      appointment.DefaultSlotCapacity,
		HorizonDays:       appointment.DefaultHorizonDays,
		WorkerConcurrency: cfg.Workers,
		Location:          cfg.Start.Location(),
		InProgressPolicy:  cfg.Policy,
	}, appointment.WithClock(func() time.Time { return clock }), appointment.WithLogger(logger))

	totals := passTotals{}
	ctx := context.Background()

	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("RECONCILIATION SIMULATION")
	fmt.Println(repeat("=", 80))

	for pass := 1; pass <= cfg.Passes; pass++ {
		report, err := svc.ReconcileAppointments(ctx)
		if err != nil {
			logger.Fatal().Err(err).Int("pass", pass).Msg("pass failed")
		}
		for _, res := range report.Results {
			totals[res.Outcome]++
		}
		printPass(pass, clock, report)
		clock = clock.Add(time.Hour)
	}

	printReport(cfg, repo, totals, notifier.sent.Load())
}

// buildFixture seeds beds, sessions and approved appointments starting on
// the simulation's first day, respecting both capacity limits.
func buildFixture(faker *gofakeit.Faker, cfg SimConfig) *appointment.MemoryRepository {
	repo := appointment.NewMemoryRepository()

	var beds []appointment.Bed
	for i := 1; i <= cfg.Beds; i++ {
		b := repo.AddBed(fmt.Sprintf("B%02d", i), true)
		beds = append(beds, b)
	}
	repo.AddBed("B99", false)

	patients := make([]uuid.UUID, cfg.Patients)
	for i := range patients {
		patients[i] = uuid.New()
		if faker.Float64Range(0, 1) < 0.7 {
			repo.SetDeviceToken(patients[i], faker.UUID())
		}
	}

	start := cfg.Start
	for offset := 0; offset <= cfg.Days+appointment.DefaultHorizonDays; offset++ {
		date := time.Date(start.Year(), start.Month(), start.Day()+offset, 0, 0, 0, 0, start.Location())
		for _, slot := range slots {
			repo.AddSession(date, slot, faker.Number(1, 10) > 1)

			if offset >= cfg.Days {
				continue
			}
			want := faker.Number(0, appointment.DefaultSlotCapacity-2)
			booked := 0
			for _, bed := range beds {
				for n := 0; n < appointment.DefaultBedCapacity && booked < want; n++ {
					bedID := bed.ID
					repo.AddAppointment(appointment.Appointment{
						PatientID: patients[faker.Number(0, len(patients)-1)],
						Date:      date,
						Slot:      slot,
						BedID:     &bedID,
						Status:    appointment.StatusApproved,
					})
					booked++
				}
			}
		}
	}
	return repo
}

func printPass(pass int, at time.Time, report appointment.PassReport) {
	fmt.Printf("pass %3d at %s: scanned=%d completed=%d rescheduled=%d didnt_show=%d in_progress=%d failed=%d (%s)\n",
		pass,
		at.Format("2006-01-02 15:04"),
		len(report.Results),
		report.Count(appointment.OutcomeCompleted),
		report.Count(appointment.OutcomeRescheduled),
		report.Count(appointment.OutcomeDidntShow),
		report.Count(appointment.OutcomeInProgress),
		report.Count(appointment.OutcomeFailed),
		report.Duration.Round(time.Microsecond),
	)
}

func printReport(cfg SimConfig, repo *appointment.MemoryRepository, totals passTotals, notifications int64) {
	fmt.Println()
	fmt.Println(repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Passes: %d\n", cfg.Passes)
	fmt.Printf("Policy: %s\n", cfg.Policy)
	fmt.Println()

	for _, o := range []appointment.Outcome{
		appointment.OutcomeCompleted,
		appointment.OutcomeRescheduled,
		appointment.OutcomeDidntShow,
		appointment.OutcomeUnchanged,
		appointment.OutcomeSkipped,
		appointment.OutcomeFailed,
	} {
		fmt.Printf("  %-12s %d\n", o+":", totals[o])
	}
	fmt.Printf("  %-12s %d\n", "notified:", notifications)
	fmt.Printf("  %-12s %d\n", "didnt_show records:", len(repo.DidntShowRecords()))
	fmt.Printf("  %-12s %d\n", "events:", len(repo.Events()))
	fmt.Println()
}

func loadConfig() (SimConfig, error) {
	start := time.Now().Truncate(time.Hour)
	if v := os.Getenv("SIM_START"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_START must be RFC3339: %w", err)
		}
		start = t
	}

	cfg := SimConfig{
		Passes:   getInt("SIM_PASSES", 24),
		Beds:     getInt("SIM_BEDS", 4),
		Patients: getInt("SIM_PATIENTS", 200),
		Days:     getInt("SIM_DAYS", 2),
		Workers:  getInt("SIM_WORKERS", 8),
		Seed:     uint64(getInt("SIM_SEED", 0)),
		Policy:   strings.ToLower(getEnv("SIM_POLICY", config.InProgressMissed)),
		Start:    start,
	}

	if cfg.Passes <= 0 || cfg.Beds <= 0 || cfg.Patients <= 0 || cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_PASSES, SIM_BEDS, SIM_PATIENTS and SIM_WORKERS must be > 0")
	}
	if cfg.Policy != config.InProgressLeave && cfg.Policy != config.InProgressMissed {
		return SimConfig{}, fmt.Errorf("unknown SIM_POLICY %q", cfg.Policy)
	}
	return cfg, nil
}

// Helper functions

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

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
