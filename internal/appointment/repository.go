package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrStore               = errors.New("store operation failed")
)

// AppointmentStore is the appointment collection as seen by the reconciler.
type AppointmentStore interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByStatus(ctx context.Context, statuses ...AppointmentStatus) ([]Appointment, error)
	// ListAppointmentsOnDate returns appointments with date in [date, date+1day).
	ListAppointmentsOnDate(ctx context.Context, date time.Time) ([]Appointment, error)
	ListSlotAppointments(ctx context.Context, date time.Time, slot string, statuses ...AppointmentStatus) ([]Appointment, error)

	// UpdateAppointmentStatus moves id from -> to. It returns ErrAppointmentNotFound
	// when no appointment with that id is currently in status from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// MarkDidntShow atomically moves an approved appointment to didnt_show and
	// writes exactly one of reschedule or record. The created appointment is
	// returned when reschedule is set.
	MarkDidntShow(ctx context.Context, id uuid.UUID, reschedule *NewAppointment, record *DidntShowRecord) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

type SessionCatalog interface {
	ListActiveSessions(ctx context.Context, date time.Time) ([]Session, error)
}

type BedRegistry interface {
	// ListWorkingBeds returns beds with isWorking = true ordered by name.
	ListWorkingBeds(ctx context.Context) ([]Bed, error)
}

// DeviceTokens resolves a patient's push token. An empty token means the
// patient has no registered device.
type DeviceTokens interface {
	GetDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error)
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	AppointmentStore
	SessionCatalog
	BedRegistry
	DeviceTokens

	Ping(ctx context.Context) error
}
