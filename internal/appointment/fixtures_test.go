package appointment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	testNow   = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	testToday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	errBoom   = errors.New("boom")
)

func day(n int) time.Time {
	return testToday.AddDate(0, 0, n)
}

// fill books n approved appointments on (date, slot, bed).
func fill(repo *MemoryRepository, date time.Time, slot string, bedID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		id := bedID
		repo.AddAppointment(Appointment{
			PatientID: uuid.New(),
			Date:      date,
			Slot:      slot,
			BedID:     &id,
			Status:    StatusApproved,
		})
	}
}

// faultyRepo injects store errors on top of a MemoryRepository.
type faultyRepo struct {
	*MemoryRepository
	scanErr     error
	sessionsErr error
	failIDs     map[uuid.UUID]bool

	mu           sync.Mutex
	sessionCalls int
}

func (f *faultyRepo) ListAppointmentsByStatus(ctx context.Context, statuses ...AppointmentStatus) ([]Appointment, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.MemoryRepository.ListAppointmentsByStatus(ctx, statuses...)
}

func (f *faultyRepo) ListActiveSessions(ctx context.Context, date time.Time) ([]Session, error) {
	f.mu.Lock()
	f.sessionCalls++
	f.mu.Unlock()
	if f.sessionsErr != nil {
		return nil, f.sessionsErr
	}
	return f.MemoryRepository.ListActiveSessions(ctx, date)
}

func (f *faultyRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if f.failIDs[id] {
		return nil, errBoom
	}
	return f.MemoryRepository.UpdateAppointmentStatus(ctx, id, from, to)
}

func (f *faultyRepo) MarkDidntShow(ctx context.Context, id uuid.UUID, reschedule *NewAppointment, record *DidntShowRecord) (*Appointment, error) {
	if f.failIDs[id] {
		return nil, errBoom
	}
	return f.MemoryRepository.MarkDidntShow(ctx, id, reschedule, record)
}

type sentNotification struct {
	PatientID uuid.UUID
	Title     string
	Body      string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, patientID uuid.UUID, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{PatientID: patientID, Title: title, Body: body})
	return n.err
}

func (n *recordingNotifier) Sent() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []EventLog
}

func (p *recordingPublisher) Publish(_ context.Context, ev EventLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
