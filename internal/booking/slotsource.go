package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchedulePlan describes a doctor's recurring availability window. The
// booking core never generates slots itself; SlotSource is the collaborator
// boundary for whatever produces them.
type SchedulePlan struct {
	StartDate   string // YYYY-MM-DD, first day of the plan
	Days        int    // number of consecutive days
	DayStart    string // HH:MM
	DayEnd      string // HH:MM
	SlotMinutes int
	Mode        ConsultationMode
}

type SlotSource interface {
	CreateSlots(ctx context.Context, doctorID uuid.UUID, plan SchedulePlan) ([]TimeSlot, error)
}

// ScheduleSource expands a SchedulePlan into concrete free slots and stores
// them through the repository. Existing (doctor, date, time) keys are left
// untouched.
type ScheduleSource struct {
	repo Repository
}

func NewScheduleSource(repo Repository) *ScheduleSource {
	return &ScheduleSource{repo: repo}
}

func (g *ScheduleSource) CreateSlots(ctx context.Context, doctorID uuid.UUID, plan SchedulePlan) ([]TimeSlot, error) {
	start, err := time.Parse("2006-01-02", plan.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse plan start date: %w", err)
	}
	dayStart, err := time.Parse("15:04", plan.DayStart)
	if err != nil {
		return nil, fmt.Errorf("parse plan day start: %w", err)
	}
	dayEnd, err := time.Parse("15:04", plan.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("parse plan day end: %w", err)
	}
	if plan.SlotMinutes <= 0 {
		return nil, fmt.Errorf("plan slot duration must be positive, got %d", plan.SlotMinutes)
	}
	if !dayEnd.After(dayStart) {
		return nil, fmt.Errorf("plan day end %s is not after day start %s", plan.DayEnd, plan.DayStart)
	}

	step := time.Duration(plan.SlotMinutes) * time.Minute

	var slots []TimeSlot
	for day := 0; day < plan.Days; day++ {
		date := start.AddDate(0, 0, day).Format("2006-01-02")
		for at := dayStart; !at.Add(step).After(dayEnd); at = at.Add(step) {
			slots = append(slots, TimeSlot{
				ID:              uuid.New(),
				DoctorID:        doctorID,
				Date:            date,
				Start:           at.Format("15:04"),
				DurationMinutes: plan.SlotMinutes,
				Mode:            plan.Mode,
			})
		}
	}

	if err := g.repo.CreateSlots(ctx, slots); err != nil {
		return nil, fmt.Errorf("store generated slots: %w", err)
	}
	return slots, nil
}
