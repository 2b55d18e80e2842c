package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
)

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

// listAppointmentsHandler serves ?date=YYYY-MM-DD or ?status=a,b. With
// neither it lists the active appointments.
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case q.Get("date") != "":
			date, perr := time.Parse(time.DateOnly, q.Get("date"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			appts, err = svc.ListAppointmentsOnDate(r.Context(), date)
		case q.Get("status") != "":
			statuses, perr := parseStatuses(q.Get("status"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", perr.Error())
				return
			}
			appts, err = svc.ListAppointmentsByStatus(r.Context(), statuses...)
		default:
			appts, err = svc.ListAppointmentsByStatus(r.Context(), appointment.ActiveStatuses...)
		}
		if err != nil {
			handleLookupError(w, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Count:        len(appts),
		}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// nextAvailabilityHandler runs the slot search without booking anything.
func nextAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		horizon := 0
		if raw := r.URL.Query().Get("horizon_days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 365 {
				writeError(w, http.StatusBadRequest, "invalid_horizon_days", "horizon_days must be between 1 and 365")
				return
			}
			horizon = n
		}

		alloc, err := svc.FindNextSlot(r.Context(), horizon)
		if err != nil {
			handleLookupError(w, err)
			return
		}
		if alloc == nil {
			writeJSON(w, http.StatusOK, AvailabilityResponse{Available: false, HorizonDays: horizon})
			return
		}

		bedID := alloc.BedID
		writeJSON(w, http.StatusOK, AvailabilityResponse{
			Available:   true,
			HorizonDays: horizon,
			Date:        alloc.Date.Format(time.DateOnly),
			Slot:        alloc.Slot,
			BedID:       &bedID,
			BedName:     alloc.BedName,
		})
	}
}

func parseStatuses(raw string) ([]appointment.AppointmentStatus, error) {
	var out []appointment.AppointmentStatus
	for _, part := range strings.Split(raw, ",") {
		s := appointment.AppointmentStatus(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, errors.New("unknown status " + strconv.Quote(string(s)))
		}
		out = append(out, s)
	}
	return out, nil
}

func handleLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
