package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository used by the simulator and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	sessions     []Session
	beds         []Bed
	didntShow    map[uuid.UUID]DidntShowRecord
	tokens       map[uuid.UUID]string
	events       []EventLog
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		didntShow:    make(map[uuid.UUID]DidntShowRecord),
		tokens:       make(map[uuid.UUID]string),
		now:          time.Now,
	}
}

func (r *MemoryRepository) AddBed(name string, working bool) Bed {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := Bed{ID: uuid.New(), Name: name, IsWorking: working}
	r.beds = append(r.beds, b)
	return b
}

func (r *MemoryRepository) AddSession(date time.Time, slot string, active bool) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Session{ID: uuid.New(), Date: civilDate(date, date.Location()), Slot: slot, Active: active}
	r.sessions = append(r.sessions, s)
	return s
}

// AddAppointment stores a copy of a, assigning an ID when it has none.
func (r *MemoryRepository) AddAppointment(a Appointment) Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.UpdatedAt = a.CreatedAt
	a.Date = civilDate(a.Date, a.Date.Location())
	r.appointments[a.ID] = a
	return a
}

func (r *MemoryRepository) SetDeviceToken(patientID uuid.UUID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[patientID] = token
}

func (r *MemoryRepository) DidntShowRecords() []DidntShowRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DidntShowRecord, 0, len(r.didntShow))
	for _, rec := range r.didntShow {
		out = append(out, rec)
	}
	return out
}

func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointmentsByStatus(ctx context.Context, statuses ...AppointmentStatus) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a Appointment) bool { return hasStatus(a.Status, statuses) }), nil
}

func (r *MemoryRepository) ListAppointmentsOnDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a Appointment) bool { return sameDate(a.Date, date) }), nil
}

func (r *MemoryRepository) ListSlotAppointments(ctx context.Context, date time.Time, slot string, statuses ...AppointmentStatus) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a Appointment) bool {
		return sameDate(a.Date, date) && a.Slot == slot && hasStatus(a.Status, statuses)
	}), nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(id, from, to)
}

func (r *MemoryRepository) MarkDidntShow(ctx context.Context, id uuid.UUID, reschedule *NewAppointment, record *DidntShowRecord) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.transition(id, StatusApproved, StatusDidntShow); err != nil {
		return nil, err
	}

	if reschedule != nil {
		bedID := reschedule.BedID
		a := Appointment{
			ID:        uuid.New(),
			PatientID: reschedule.PatientID,
			Date:      reschedule.Date,
			Slot:      reschedule.Slot,
			BedID:     &bedID,
			Status:    reschedule.Status,
			CreatedAt: reschedule.CreatedAt,
			UpdatedAt: reschedule.CreatedAt,
		}
		r.appointments[a.ID] = a
		return &a, nil
	}

	if record != nil {
		if _, exists := r.didntShow[record.OriginalAppointmentID]; !exists {
			r.didntShow[record.OriginalAppointmentID] = *record
		}
	}
	return nil, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) ListActiveSessions(ctx context.Context, date time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, s := range r.sessions {
		if s.Active && sameDate(s.Date, date) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListWorkingBeds(ctx context.Context) ([]Bed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Bed
	for _, b := range r.beds {
		if b.IsWorking {
			out = append(out, b)
		}
	}
	sortBeds(out)
	return out, nil
}

func (r *MemoryRepository) GetDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[patientID], nil
}

// transition must be called with mu held.
func (r *MemoryRepository) transition(id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return &a, nil
}

// filter must be called with mu held. Results are ordered by date, slot and creation time.
func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func hasStatus(s AppointmentStatus, statuses []AppointmentStatus) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
