package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBedCapacity  = 4
	DefaultSlotCapacity = 16
	DefaultHorizonDays  = 30
)

// Capacity holds the two limits every allocation must respect.
type Capacity struct {
	PerBed  int // patients per bed per (date, slot)
	PerSlot int // patients per (date, slot) across the facility
}

type availabilityStore interface {
	SessionCatalog
	BedRegistry
	ListSlotAppointments(ctx context.Context, date time.Time, slot string, statuses ...AppointmentStatus) ([]Appointment, error)
}

// Finder searches forward from tomorrow for the earliest free (date, slot, bed).
type Finder struct {
	store    availabilityStore
	capacity Capacity
}

func NewFinder(store availabilityStore, capacity Capacity) *Finder {
	if capacity.PerBed <= 0 {
		capacity.PerBed = DefaultBedCapacity
	}
	if capacity.PerSlot <= 0 {
		capacity.PerSlot = DefaultSlotCapacity
	}
	return &Finder{store: store, capacity: capacity}
}

// FindNextSlot returns the first allocation within horizonDays days after
// now's date, or nil when every candidate is full. The result reflects a
// snapshot of the store and is not a reservation.
func (f *Finder) FindNextSlot(ctx context.Context, horizonDays int, now time.Time) (*Allocation, error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	today := civilDate(now, now.Location())
	var beds []Bed
	bedsLoaded := false

	for i := 1; i <= horizonDays; i++ {
		date := today.AddDate(0, 0, i)

		sessions, err := f.store.ListActiveSessions(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("%w: list sessions on %s: %w", ErrStore, date.Format(time.DateOnly), err)
		}
		sortSessions(sessions)

		for _, session := range sessions {
			if !session.Active {
				continue
			}

			booked, err := f.store.ListSlotAppointments(ctx, date, session.Slot, ActiveStatuses...)
			if err != nil {
				return nil, fmt.Errorf("%w: list appointments for %s %s: %w", ErrStore, date.Format(time.DateOnly), session.Slot, err)
			}
			if len(booked) >= f.capacity.PerSlot {
				continue
			}

			if !bedsLoaded {
				beds, err = f.store.ListWorkingBeds(ctx)
				if err != nil {
					return nil, fmt.Errorf("%w: list working beds: %w", ErrStore, err)
				}
				sortBeds(beds)
				bedsLoaded = true
			}

			perBed := bedOccupancy(booked)
			for _, bed := range beds {
				if !bed.IsWorking {
					continue
				}
				if perBed[bed.ID] < f.capacity.PerBed {
					return &Allocation{
						Date:    date,
						Slot:    session.Slot,
						BedID:   bed.ID,
						BedName: bed.Name,
					}, nil
				}
			}
		}
	}

	return nil, nil
}

func bedOccupancy(appts []Appointment) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int, len(appts))
	for _, a := range appts {
		if a.BedID != nil {
			counts[*a.BedID]++
		}
	}
	return counts
}

func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Slot != sessions[j].Slot {
			return sessions[i].Slot < sessions[j].Slot
		}
		return sessions[i].ID.String() < sessions[j].ID.String()
	})
}

func sortBeds(beds []Bed) {
	sort.SliceStable(beds, func(i, j int) bool {
		if beds[i].Name != beds[j].Name {
			return beds[i].Name < beds[j].Name
		}
		return beds[i].ID.String() < beds[j].ID.String()
	})
}
