package service

import (
	"context"
	"fmt"
	"time"

	"github.com/swanstudios/scheduling-server-go/internal/config"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

const alternativeLabelLayout = "Mon, Jan 2 15:04"

// WorkingHours decides whether a trainer may be booked in a window.
type WorkingHours interface {
	Allows(trainerID int64, window model.TimeWindow) bool
}

// ConfigWorkingHours applies one set of working hours to every trainer.
type ConfigWorkingHours struct {
	loc         *time.Location
	startMinute int
	endMinute   int
	days        map[time.Weekday]bool
}

func NewConfigWorkingHours(cfg *config.Config) (*ConfigWorkingHours, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	start, err := config.ParseClock(cfg.WorkingHoursStart)
	if err != nil {
		return nil, err
	}
	end, err := config.ParseClock(cfg.WorkingHoursEnd)
	if err != nil {
		return nil, err
	}
	days := make(map[time.Weekday]bool, len(cfg.WorkingDays))
	for _, d := range cfg.WorkingDays {
		days[time.Weekday(d)] = true
	}
	return &ConfigWorkingHours{loc: loc, startMinute: start, endMinute: end, days: days}, nil
}

// Allows requires the window to fall on one working day, inside the daily
// hours, in the configured location.
func (h *ConfigWorkingHours) Allows(_ int64, window model.TimeWindow) bool {
	start := window.Start.In(h.loc)
	end := window.End.In(h.loc)

	if !h.days[start.Weekday()] {
		return false
	}
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, h.loc)
	open := dayStart.Add(time.Duration(h.startMinute) * time.Minute)
	closing := dayStart.Add(time.Duration(h.endMinute) * time.Minute)
	return !start.Before(open) && !end.After(closing)
}

// AlternativeSlotFinder searches outward from a rejected window for free
// slots of the same length, alternating earlier and later candidates.
type AlternativeSlotFinder struct {
	hours   WorkingHours
	buffer  time.Duration
	step    time.Duration
	horizon time.Duration
	max     int
	loc     *time.Location
	now     func() time.Time
}

type AlternativeFinderOptions struct {
	Hours   WorkingHours
	Buffer  time.Duration
	Step    time.Duration
	Horizon time.Duration
	Max     int
	Loc     *time.Location
}

func NewAlternativeSlotFinder(opts AlternativeFinderOptions) *AlternativeSlotFinder {
	loc := opts.Loc
	if loc == nil {
		loc = time.UTC
	}
	return &AlternativeSlotFinder{
		hours:   opts.Hours,
		buffer:  opts.Buffer,
		step:    opts.Step,
		horizon: opts.Horizon,
		max:     opts.Max,
		loc:     loc,
		now:     time.Now,
	}
}

// Find returns at most max windows, closest to the rejected one first. Each
// window keeps the buffer to every blocking session of the trainer, lies
// inside working hours and starts in the future.
func (f *AlternativeSlotFinder) Find(ctx context.Context, sessions repository.SessionRepository, trainerID int64, window model.TimeWindow, excludeID int64) ([]model.Alternative, error) {
	out := []model.Alternative{}
	duration := window.Duration()
	if f.max <= 0 || duration <= 0 || f.horizon <= 0 {
		return out, nil
	}
	step := f.step
	if step <= 0 {
		step = duration
	}

	search := model.TimeWindow{
		Start: window.Start.Add(-f.horizon),
		End:   window.End.Add(f.horizon),
	}.Widen(f.buffer)
	existing, err := sessions.FindBlockingForTrainer(ctx, trainerID, search)
	if err != nil {
		return nil, fmt.Errorf("load trainer timeline: %w", err)
	}

	now := f.now()
	for k := 1; time.Duration(k)*step <= f.horizon; k++ {
		for _, sign := range []int{-1, 1} {
			candidate := window.Shift(time.Duration(sign*k) * step)
			if !f.usable(trainerID, candidate, existing, excludeID, now) {
				continue
			}
			out = append(out, model.Alternative{
				Start: candidate.Start,
				End:   candidate.End,
				Label: f.label(candidate),
			})
			if len(out) >= f.max {
				return out, nil
			}
		}
	}
	return out, nil
}

func (f *AlternativeSlotFinder) usable(trainerID int64, candidate model.TimeWindow, existing []model.Session, excludeID int64, now time.Time) bool {
	if candidate.Start.Before(now) {
		return false
	}
	if f.hours != nil && !f.hours.Allows(trainerID, candidate) {
		return false
	}
	padded := candidate.Widen(f.buffer)
	for _, s := range existing {
		if s.ID == excludeID {
			continue
		}
		if s.Window().Overlaps(padded) {
			return false
		}
	}
	return true
}

func (f *AlternativeSlotFinder) label(w model.TimeWindow) string {
	start := w.Start.In(f.loc)
	end := w.End.In(f.loc)
	return fmt.Sprintf("%s - %s", start.Format(alternativeLabelLayout), end.Format("15:04"))
}
