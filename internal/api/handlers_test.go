package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
	"github.com/hackgods/dialysis-scheduling/internal/config"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func testConfig() config.Config {
	return config.Config{
		BedCapacity:       appointment.DefaultBedCapacity,
		SlotCapacity:      appointment.DefaultSlotCapacity,
		HorizonDays:       appointment.DefaultHorizonDays,
		WorkerConcurrency: 1,
		Location:          time.UTC,
		InProgressPolicy:  config.InProgressLeave,
	}
}

func newTestRouter(t *testing.T, repo *appointment.MemoryRepository, redis Pinger) http.Handler {
	t.Helper()
	svc := appointment.NewService(repo, nil, testConfig(), appointment.WithClock(func() time.Time { return testNow }))
	return NewRouter(RouterConfig{
		Service: svc,
		Store:   repo,
		Redis:   redis,
		Env:     "test",
		Version: "v-test",
		Logger:  zerolog.Nop(),
	})
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetAppointment(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	bed := repo.AddBed("B1", true)
	appt := repo.AddAppointment(appointment.Appointment{
		PatientID: uuid.New(),
		Date:      testNow.AddDate(0, 0, 1),
		Slot:      "06:00-10:00",
		BedID:     &bed.ID,
		Status:    appointment.StatusApproved,
	})
	router := newTestRouter(t, repo, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantError  string
	}{
		{name: "Found", path: "/appointments/" + appt.ID.String(), wantStatus: http.StatusOK},
		{name: "Not found", path: "/appointments/" + uuid.NewString(), wantStatus: http.StatusNotFound, wantError: "appointment_not_found"},
		{name: "Bad id", path: "/appointments/not-a-uuid", wantStatus: http.StatusBadRequest, wantError: "invalid_appointment_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, router, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			if tt.wantError != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantError, resp.Error)
				return
			}

			var resp AppointmentResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, appt.ID, resp.ID)
			assert.Equal(t, "2026-03-11", resp.Date)
			assert.Equal(t, "06:00-10:00", resp.Slot)
			assert.Equal(t, "approved", resp.Status)
			require.NotNil(t, resp.BedID)
			assert.Equal(t, bed.ID, *resp.BedID)
		})
	}
}

func TestListAppointments(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	bed := repo.AddBed("B1", true)
	add := func(date time.Time, status appointment.AppointmentStatus) {
		repo.AddAppointment(appointment.Appointment{
			PatientID: uuid.New(),
			Date:      date,
			Slot:      "06:00-10:00",
			BedID:     &bed.ID,
			Status:    status,
		})
	}
	add(testNow, appointment.StatusApproved)
	add(testNow, appointment.StatusCompleted)
	add(testNow.AddDate(0, 0, 1), appointment.StatusPending)
	router := newTestRouter(t, repo, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
	}{
		{name: "By date", path: "/appointments?date=2026-03-10", wantStatus: http.StatusOK, wantCount: 2},
		{name: "By status", path: "/appointments?status=approved,pending", wantStatus: http.StatusOK, wantCount: 2},
		{name: "Active by default", path: "/appointments", wantStatus: http.StatusOK, wantCount: 2},
		{name: "Empty date", path: "/appointments?date=2026-04-01", wantStatus: http.StatusOK, wantCount: 0},
		{name: "Invalid date", path: "/appointments?date=10/03/2026", wantStatus: http.StatusBadRequest},
		{name: "Invalid status", path: "/appointments?status=cancelled", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, router, tt.path)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp AppointmentListResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Len(t, resp.Appointments, tt.wantCount)
		})
	}
}

func TestNextAvailability(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	bed := repo.AddBed("B1", true)
	repo.AddSession(testNow.AddDate(0, 0, 2), "14:00-18:00", true)
	router := newTestRouter(t, repo, nil)

	rec := doGet(t, router, "/availability/next")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Available)
	assert.Equal(t, "2026-03-12", resp.Date)
	assert.Equal(t, "14:00-18:00", resp.Slot)
	assert.Equal(t, "B1", resp.BedName)
	require.NotNil(t, resp.BedID)
	assert.Equal(t, bed.ID, *resp.BedID)

	rec = doGet(t, router, "/availability/next?horizon_days=1")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = AvailabilityResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Available)

	rec = doGet(t, router, "/availability/next?horizon_days=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	down := pingerFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name       string
		redis      Pinger
		wantStatus int
		wantBody   string
	}{
		{name: "No redis configured", redis: nil, wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "Redis up", redis: pingerFunc(func(context.Context) error { return nil }), wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "Redis down", redis: down, wantStatus: http.StatusOK, wantBody: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, appointment.NewMemoryRepository(), tt.redis)

			rec := doGet(t, router, "/health/ready")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantBody, resp.Status)
			assert.Equal(t, "ok", resp.Dependencies["store"])
		})
	}

	t.Run("Store down", func(t *testing.T) {
		h := NewHealthHandler(down, nil, "test", "v")
		rec := httptest.NewRecorder()
		h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Liveness", func(t *testing.T) {
		rec := doGet(t, newTestRouter(t, appointment.NewMemoryRepository(), nil), "/health/live")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "v-test")
	})
}

func TestRequestIDPropagation(t *testing.T) {
	router := newTestRouter(t, appointment.NewMemoryRepository(), nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
