package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
)

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Date      string     `json:"date"`
	Slot      string     `json:"slot"`
	BedID     *uuid.UUID `json:"bed_id,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type AvailabilityResponse struct {
	Available   bool       `json:"available"`
	HorizonDays int        `json:"horizon_days,omitempty"`
	Date        string     `json:"date,omitempty"`
	Slot        string     `json:"slot,omitempty"`
	BedID       *uuid.UUID `json:"bed_id,omitempty"`
	BedName     string     `json:"bed_name,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		Date:      a.Date.Format(time.DateOnly),
		Slot:      a.Slot,
		BedID:     a.BedID,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
