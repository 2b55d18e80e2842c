package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "pending"
	StatusApproved    AppointmentStatus = "approved"
	StatusCompleted   AppointmentStatus = "completed"
	StatusDidntShow   AppointmentStatus = "didnt_show"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// ActiveStatuses are the statuses that occupy a bed in the capacity ledger.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusApproved, StatusRescheduled}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:  {StatusApproved},
	StatusApproved: {StatusCompleted, StatusDidntShow},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusDidntShow, StatusRescheduled:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Bed struct {
	ID        uuid.UUID
	Name      string
	IsWorking bool
}

// Session is a facility offering of a slot on one calendar date.
type Session struct {
	ID     uuid.UUID
	Date   time.Time
	Slot   string
	Active bool
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Slot      string
	BedID     *uuid.UUID
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAppointment is the write model for an appointment created by the reconciler.
type NewAppointment struct {
	PatientID uuid.UUID         `validate:"required"`
	Date      time.Time         `validate:"required"`
	Slot      string            `validate:"required,slot_label"`
	BedID     uuid.UUID         `validate:"required"`
	Status    AppointmentStatus `validate:"required,oneof=pending approved rescheduled"`
	CreatedAt time.Time         `validate:"required"`
}

type DidntShowRecord struct {
	PatientID             uuid.UUID `validate:"required"`
	OriginalAppointmentID uuid.UUID `validate:"required"`
	CreatedAt             time.Time `validate:"required"`
}

// Allocation is a free (date, slot, bed) triple found by the Finder.
type Allocation struct {
	Date    time.Time
	Slot    string
	BedID   uuid.UUID
	BedName string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// civilDate returns midnight of t's calendar date in loc.
func civilDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
