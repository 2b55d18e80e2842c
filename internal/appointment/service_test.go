package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dialysis-scheduling/internal/config"
)

func testConfig(policy string) config.Config {
	return config.Config{
		BedCapacity:       DefaultBedCapacity,
		SlotCapacity:      DefaultSlotCapacity,
		HorizonDays:       DefaultHorizonDays,
		WorkerConcurrency: 4,
		InProgressPolicy:  policy,
	}
}

func newTestService(repo Repository, n Notifier, cfg config.Config, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(repo, n, cfg, opts...)
}

func approved(repo *MemoryRepository, date time.Time, slot string) Appointment {
	return repo.AddAppointment(Appointment{
		PatientID: uuid.New(),
		Date:      date,
		Slot:      slot,
		Status:    StatusApproved,
	})
}

func status(t *testing.T, repo Repository, id uuid.UUID) AppointmentStatus {
	t.Helper()
	a, err := repo.GetAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func eventTypes(repo *MemoryRepository) []string {
	var out []string
	for _, ev := range repo.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

func TestReconcile_CompletesEndedAppointmentOnce(t *testing.T) {
	repo := NewMemoryRepository()
	for _, name := range []string{"B1", "B2", "B3"} {
		repo.AddBed(name, true)
	}
	for i := 1; i <= 3; i++ {
		repo.AddSession(day(i), morning, true)
	}
	yesterday := approved(repo, day(-1), morning)
	earlier := approved(repo, day(0), morning)
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressLeave), WithPublisher(publisher))

	report, err := svc.ReconcileAppointments(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Count(OutcomeCompleted))

	assert.Equal(t, StatusCompleted, status(t, repo, yesterday.ID))
	assert.Equal(t, StatusCompleted, status(t, repo, earlier.ID))

	sent := notifier.Sent()
	require.Len(t, sent, 2)
	for _, n := range sent {
		assert.Equal(t, "Dialysis Complete", n.Title)
		assert.Equal(t, "Your dialysis session is complete. You can now book your next follow-up session.", n.Body)
	}
	assert.ElementsMatch(t, []string{EventAppointmentCompleted, EventAppointmentCompleted}, eventTypes(repo))
	assert.Len(t, publisher.events, 2)

	// a second pass finds nothing left to do
	report, err = svc.ReconcileAppointments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Len(t, notifier.Sent(), 2)
}

func TestReconcile_ScansApprovedOnly(t *testing.T) {
	repo := NewMemoryRepository()
	for _, s := range []AppointmentStatus{StatusPending, StatusRescheduled, StatusCompleted, StatusDidntShow} {
		repo.AddAppointment(Appointment{PatientID: uuid.New(), Date: day(-2), Slot: morning, Status: s})
	}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressLeave))

	report, err := svc.ReconcileAppointments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, notifier.Sent())
}

func TestReconcile_Classification(t *testing.T) {
	tests := []struct {
		name        string
		date        int
		slot        string
		wantOutcome Outcome
		wantStatus  AppointmentStatus
	}{
		{name: "Ended", date: 0, slot: "06:00-10:00", wantOutcome: OutcomeCompleted, wantStatus: StatusCompleted},
		{name: "In progress is left alone", date: 0, slot: "10:00-14:00", wantOutcome: OutcomeInProgress, wantStatus: StatusApproved},
		{name: "Starts exactly now", date: 0, slot: "12:00-16:00", wantOutcome: OutcomeUpcoming, wantStatus: StatusApproved},
		{name: "Ends exactly now", date: 0, slot: "08:00-12:00", wantOutcome: OutcomeInProgress, wantStatus: StatusApproved},
		{name: "Later today", date: 0, slot: "14:00-18:00", wantOutcome: OutcomeUpcoming, wantStatus: StatusApproved},
		{name: "Tomorrow", date: 1, slot: "06:00-10:00", wantOutcome: OutcomeUpcoming, wantStatus: StatusApproved},
		{name: "Malformed slot", date: -3, slot: "morning", wantOutcome: OutcomeSkipped, wantStatus: StatusApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			appt := approved(repo, day(tt.date), tt.slot)
			notifier := &recordingNotifier{}
			svc := newTestService(repo, notifier, testConfig(config.InProgressLeave))

			res := svc.ReconcileAppointment(context.Background(), appt, testNow)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantStatus, status(t, repo, appt.ID))
			if tt.wantOutcome == OutcomeSkipped {
				assert.ErrorIs(t, res.Err, ErrInvalidSlotLabel)
			}
			if tt.wantOutcome != OutcomeCompleted {
				assert.Empty(t, notifier.Sent())
				assert.Empty(t, repo.Events())
			}
		})
	}
}

func TestReconcile_MissedIsRescheduled(t *testing.T) {
	repo := NewMemoryRepository()
	b1 := repo.AddBed("B1", true)
	repo.AddSession(day(1), morning, true)
	appt := approved(repo, day(0), "10:00-14:00")
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressMissed))

	res := svc.ReconcileAppointment(context.Background(), appt, testNow)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeRescheduled, res.Outcome)
	assert.Equal(t, StatusDidntShow, status(t, repo, appt.ID))

	require.NotNil(t, res.Rescheduled)
	created := res.Rescheduled
	assert.Equal(t, StatusRescheduled, created.Status)
	assert.Equal(t, appt.PatientID, created.PatientID)
	assert.True(t, day(1).Equal(created.Date))
	assert.Equal(t, morning, created.Slot)
	require.NotNil(t, created.BedID)
	assert.Equal(t, b1.ID, *created.BedID)
	assert.Equal(t, StatusRescheduled, status(t, repo, created.ID))

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, appt.PatientID, sent[0].PatientID)
	assert.Equal(t, "Appointment Auto-Rescheduled", sent[0].Title)
	assert.Equal(t, "Your missed appointment has been rescheduled to Wed Mar 11 2026 at 06:00-10:00", sent[0].Body)

	assert.Empty(t, repo.DidntShowRecords())
	assert.Equal(t, []string{EventAppointmentMissed, EventAppointmentRescheduled}, eventTypes(repo))
}

func TestReconcile_MissedWithoutSlotRecordsDidntShow(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddBed("B1", true)
	appt := approved(repo, day(0), "10:00-14:00")
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressMissed))

	res := svc.ReconcileAppointment(context.Background(), appt, testNow)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeDidntShow, res.Outcome)
	assert.Nil(t, res.Rescheduled)
	assert.Equal(t, StatusDidntShow, status(t, repo, appt.ID))
	assert.Empty(t, notifier.Sent())

	records := repo.DidntShowRecords()
	require.Len(t, records, 1)
	assert.Equal(t, appt.ID, records[0].OriginalAppointmentID)
	assert.Equal(t, appt.PatientID, records[0].PatientID)
	assert.Equal(t, []string{EventAppointmentMissed, EventDidntShowRecorded}, eventTypes(repo))
}

func TestReconcile_StaleAppointmentIsUnchanged(t *testing.T) {
	repo := NewMemoryRepository()
	appt := approved(repo, day(-1), morning)
	_, err := repo.UpdateAppointmentStatus(context.Background(), appt.ID, StatusApproved, StatusCompleted)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressLeave))

	res := svc.ReconcileAppointment(context.Background(), appt, testNow)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Empty(t, notifier.Sent())
}

func TestReconcile_StoreFailureIsIsolated(t *testing.T) {
	mem := NewMemoryRepository()
	bad := approved(mem, day(-1), morning)
	good := approved(mem, day(-1), "10:00-14:00")
	repo := &faultyRepo{MemoryRepository: mem, failIDs: map[uuid.UUID]bool{bad.ID: true}}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressLeave))

	report, err := svc.ReconcileAppointments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(OutcomeFailed))
	assert.Equal(t, 1, report.Count(OutcomeCompleted))

	for _, res := range report.Results {
		if res.AppointmentID == bad.ID {
			assert.ErrorIs(t, res.Err, ErrStore)
			assert.ErrorIs(t, res.Err, errBoom)
		}
	}
	assert.Equal(t, StatusApproved, status(t, repo, bad.ID))
	assert.Equal(t, StatusCompleted, status(t, repo, good.ID))
	assert.Len(t, notifier.Sent(), 1)
}

func TestReconcile_FailedRescheduleLeavesAppointmentApproved(t *testing.T) {
	mem := NewMemoryRepository()
	mem.AddBed("B1", true)
	mem.AddSession(day(1), morning, true)
	appt := approved(mem, day(0), "10:00-14:00")
	repo := &faultyRepo{MemoryRepository: mem, failIDs: map[uuid.UUID]bool{appt.ID: true}}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, testConfig(config.InProgressMissed))

	res := svc.ReconcileAppointment(context.Background(), appt, testNow)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrStore)
	assert.Equal(t, StatusApproved, status(t, repo, appt.ID))

	slot, err := mem.ListSlotAppointments(context.Background(), day(1), morning, ActiveStatuses...)
	require.NoError(t, err)
	assert.Empty(t, slot)
	assert.Empty(t, notifier.Sent())
}

func TestReconcile_ScanFailure(t *testing.T) {
	repo := &faultyRepo{MemoryRepository: NewMemoryRepository(), scanErr: errBoom}
	svc := newTestService(repo, &recordingNotifier{}, testConfig(config.InProgressLeave))

	_, err := svc.ReconcileAppointments(context.Background())
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, errBoom)
}

func TestReconcile_NotificationFailureIsSwallowed(t *testing.T) {
	repo := NewMemoryRepository()
	appt := approved(repo, day(-1), morning)
	notifier := &recordingNotifier{err: errBoom}
	svc := newTestService(repo, notifier, testConfig(config.InProgressLeave))

	report, err := svc.ReconcileAppointments(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.NoError(t, res.Err)
	assert.ErrorIs(t, res.NotifyErr, ErrNotification)
	assert.Equal(t, StatusCompleted, status(t, repo, appt.ID))
	assert.Len(t, notifier.Sent(), 1)
}

func TestReconcile_NilNotifier(t *testing.T) {
	repo := NewMemoryRepository()
	appt := approved(repo, day(-1), morning)
	svc := newTestService(repo, nil, testConfig(config.InProgressLeave))

	res := svc.ReconcileAppointment(context.Background(), appt, testNow)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.NoError(t, res.NotifyErr)
}

func TestReconcile_ConcurrentWorkersRespectCapacity(t *testing.T) {
	repo := NewMemoryRepository()
	b1 := repo.AddBed("B1", true)
	repo.AddSession(day(1), morning, true)

	var missed []Appointment
	for i := 0; i < 10; i++ {
		missed = append(missed, approved(repo, day(0), "10:00-14:00"))
	}
	notifier := &recordingNotifier{}
	cfg := testConfig(config.InProgressMissed)
	cfg.WorkerConcurrency = 8
	svc := newTestService(repo, notifier, cfg)

	report, err := svc.ReconcileAppointments(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Results, len(missed))
	assert.Equal(t, 4, report.Count(OutcomeRescheduled))
	assert.Equal(t, 6, report.Count(OutcomeDidntShow))

	booked, err := repo.ListSlotAppointments(context.Background(), day(1), morning, ActiveStatuses...)
	require.NoError(t, err)
	assert.Len(t, booked, 4)
	for _, a := range booked {
		assert.Equal(t, b1.ID, *a.BedID)
	}

	assert.Len(t, repo.DidntShowRecords(), 6)
	assert.Len(t, notifier.Sent(), 4)
	for _, a := range missed {
		assert.Equal(t, StatusDidntShow, status(t, repo, a.ID))
	}
}

func TestService_FindNextSlotUsesConfiguredHorizon(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddBed("B1", true)
	repo.AddSession(day(5), morning, true)

	cfg := testConfig(config.InProgressLeave)
	cfg.HorizonDays = 3
	svc := newTestService(repo, nil, cfg)

	alloc, err := svc.FindNextSlot(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, alloc)

	alloc, err = svc.FindNextSlot(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	assert.True(t, day(5).Equal(alloc.Date))
}
