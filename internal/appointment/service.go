package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/dialysis-scheduling/internal/config"
)

const (
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentMissed      = "APPOINTMENT_MISSED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventDidntShowRecorded      = "DIDNT_SHOW_RECORDED"
)

const (
	completedTitle   = "Dialysis Complete"
	completedBody    = "Your dialysis session is complete. You can now book your next follow-up session."
	rescheduledTitle = "Appointment Auto-Rescheduled"
)

var ErrNotification = errors.New("notification failed")

// Notifier delivers a message to a patient.
type Notifier interface {
	Send(ctx context.Context, patientID uuid.UUID, title, body string) error
}

// EventPublisher forwards transition events to other services.
type EventPublisher interface {
	Publish(ctx context.Context, ev EventLog) error
}

type Outcome string

const (
	OutcomeUpcoming    Outcome = "upcoming"
	OutcomeInProgress  Outcome = "in_progress"
	OutcomeCompleted   Outcome = "completed"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeDidntShow   Outcome = "didnt_show"
	OutcomeUnchanged   Outcome = "unchanged" // another writer moved the appointment first
	OutcomeSkipped     Outcome = "skipped"   // malformed slot label
	OutcomeFailed      Outcome = "failed"    // store error, retried next pass
)

// Result is the outcome of reconciling a single appointment.
type Result struct {
	AppointmentID uuid.UUID
	Outcome       Outcome
	Err           error
	NotifyErr     error
	Rescheduled   *Appointment
}

type PassReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Results   []Result
}

func (r PassReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

type Service struct {
	repo      Repository
	finder    *Finder
	notifier  Notifier
	publisher EventPublisher
	cfg       config.Config
	log       zerolog.Logger
	now       func() time.Time

	// allocMu serializes find-then-write so that workers of one pass never
	// hand out the same bed seat twice.
	allocMu sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(repo Repository, notifier Notifier, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		finder:   NewFinder(repo, Capacity{PerBed: cfg.BedCapacity, PerSlot: cfg.SlotCapacity}),
		notifier: notifier,
		cfg:      cfg,
		log:      zerolog.Nop(),
	}
	loc := cfg.ClinicLocation()
	s.now = func() time.Time { return time.Now().In(loc) }

	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.WorkerConcurrency <= 0 {
		s.cfg.WorkerConcurrency = 1
	}
	return s
}

// ReconcileAppointments runs one reconciliation pass over every approved
// appointment. Per-appointment failures are reported in the PassReport and
// never abort the pass; only a failure to scan is returned as an error.
func (s *Service) ReconcileAppointments(ctx context.Context) (PassReport, error) {
	now := s.now()
	started := time.Now()
	report := PassReport{StartedAt: now}

	appts, err := s.repo.ListAppointmentsByStatus(ctx, StatusApproved)
	if err != nil {
		return report, fmt.Errorf("%w: list approved appointments: %w", ErrStore, err)
	}

	report.Results = make([]Result, len(appts))

	var g errgroup.Group
	g.SetLimit(s.cfg.WorkerConcurrency)
	for i, appt := range appts {
		g.Go(func() error {
			report.Results[i] = s.ReconcileAppointment(ctx, appt, now)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	s.log.Info().
		Int("scanned", len(appts)).
		Int("completed", report.Count(OutcomeCompleted)).
		Int("rescheduled", report.Count(OutcomeRescheduled)).
		Int("didnt_show", report.Count(OutcomeDidntShow)).
		Int("skipped", report.Count(OutcomeSkipped)).
		Int("failed", report.Count(OutcomeFailed)).
		Dur("duration", report.Duration).
		Msg("auto-management of appointments completed")

	return report, nil
}

// ReconcileAppointment classifies one approved appointment against now and
// applies its transition.
func (s *Service) ReconcileAppointment(ctx context.Context, appt Appointment, now time.Time) Result {
	logger := s.log.With().Str("appointment_id", appt.ID.String()).Logger()

	start, end, err := ResolveWindow(appt.Date, appt.Slot)
	if err != nil {
		logger.Warn().Err(err).Msg("skipping appointment with malformed slot")
		return Result{AppointmentID: appt.ID, Outcome: OutcomeSkipped, Err: err}
	}

	switch {
	case end.Before(now):
		return s.complete(ctx, logger, appt)
	case start.Before(now):
		if s.cfg.InProgressPolicy != config.InProgressMissed {
			return Result{AppointmentID: appt.ID, Outcome: OutcomeInProgress}
		}
		return s.markMissed(ctx, logger, appt, now)
	default:
		return Result{AppointmentID: appt.ID, Outcome: OutcomeUpcoming}
	}
}

func (s *Service) complete(ctx context.Context, logger zerolog.Logger, appt Appointment) Result {
	res := Result{AppointmentID: appt.ID}

	_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusApproved, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			res.Outcome = OutcomeUnchanged
			return res
		}
		logger.Error().Err(err).Msg("failed to complete appointment")
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: complete appointment: %w", ErrStore, err)
		return res
	}

	res.Outcome = OutcomeCompleted
	s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
		"patient_id": appt.PatientID.String(),
		"date":       appt.Date.Format(time.DateOnly),
		"slot":       appt.Slot,
	})
	res.NotifyErr = s.notify(ctx, logger, appt.PatientID, completedTitle, completedBody)
	return res
}

func (s *Service) markMissed(ctx context.Context, logger zerolog.Logger, appt Appointment, now time.Time) Result {
	res := Result{AppointmentID: appt.ID}

	created, alloc, err := s.allocate(ctx, appt, now)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			res.Outcome = OutcomeUnchanged
			return res
		}
		logger.Error().Err(err).Msg("failed to process missed appointment")
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	s.logEvent(ctx, appt.ID, EventAppointmentMissed, map[string]any{
		"patient_id": appt.PatientID.String(),
	})

	if created == nil {
		res.Outcome = OutcomeDidntShow
		s.logEvent(ctx, appt.ID, EventDidntShowRecorded, map[string]any{
			"patient_id":   appt.PatientID.String(),
			"horizon_days": s.cfg.HorizonDays,
		})
		logger.Info().Msg("no replacement slot within horizon, recorded didnt show")
		return res
	}

	res.Outcome = OutcomeRescheduled
	res.Rescheduled = created
	s.logEvent(ctx, created.ID, EventAppointmentRescheduled, map[string]any{
		"original_appointment_id": appt.ID.String(),
		"date":                    alloc.Date.Format(time.DateOnly),
		"slot":                    alloc.Slot,
		"bed_id":                  alloc.BedID.String(),
	})

	body := fmt.Sprintf("Your missed appointment has been rescheduled to %s at %s",
		alloc.Date.Format("Mon Jan 02 2006"), alloc.Slot)
	res.NotifyErr = s.notify(ctx, logger, appt.PatientID, rescheduledTitle, body)
	return res
}

// allocate finds a replacement slot and writes the didnt_show transition in
// one critical section.
func (s *Service) allocate(ctx context.Context, appt Appointment, now time.Time) (*Appointment, *Allocation, error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	alloc, err := s.finder.FindNextSlot(ctx, s.cfg.HorizonDays, now)
	if err != nil {
		return nil, nil, fmt.Errorf("find next slot: %w", err)
	}

	var (
		reschedule *NewAppointment
		record     *DidntShowRecord
	)
	if alloc != nil {
		reschedule = &NewAppointment{
			PatientID: appt.PatientID,
			Date:      alloc.Date,
			Slot:      alloc.Slot,
			BedID:     alloc.BedID,
			Status:    StatusRescheduled,
			CreatedAt: now,
		}
		if err := validateRecord(reschedule); err != nil {
			return nil, nil, err
		}
	} else {
		record = &DidntShowRecord{
			PatientID:             appt.PatientID,
			OriginalAppointmentID: appt.ID,
			CreatedAt:             now,
		}
		if err := validateRecord(record); err != nil {
			return nil, nil, err
		}
	}

	created, err := s.repo.MarkDidntShow(ctx, appt.ID, reschedule, record)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: mark didnt show: %w", ErrStore, err)
	}
	return created, alloc, nil
}

func (s *Service) notify(ctx context.Context, logger zerolog.Logger, patientID uuid.UUID, title, body string) error {
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Send(ctx, patientID, title, body); err != nil {
		logger.Warn().Err(err).Str("patient_id", patientID.String()).Str("title", title).Msg("notification not delivered")
		return fmt.Errorf("%w: %w", ErrNotification, err)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
		}
	}
}

// FindNextSlot exposes the Finder with the configured horizon.
func (s *Service) FindNextSlot(ctx context.Context, horizonDays int) (*Allocation, error) {
	if horizonDays <= 0 {
		horizonDays = s.cfg.HorizonDays
	}
	return s.finder.FindNextSlot(ctx, horizonDays, s.now())
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointmentsOnDate retrieves every appointment booked on a calendar date
func (s *Service) ListAppointmentsOnDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	appts, err := s.repo.ListAppointmentsOnDate(ctx, civilDate(date, s.cfg.ClinicLocation()))
	if err != nil {
		return nil, fmt.Errorf("list appointments on date: %w", err)
	}
	return appts, nil
}

// ListAppointmentsByStatus retrieves appointments in any of the given statuses
func (s *Service) ListAppointmentsByStatus(ctx context.Context, statuses ...AppointmentStatus) ([]Appointment, error) {
	appts, err := s.repo.ListAppointmentsByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list appointments by status: %w", err)
	}
	return appts, nil
}
