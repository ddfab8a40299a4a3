package model

import (
	"time"
)

type Session struct {
	ID                 int64         `db:"id" json:"id"`
	TrainerID          int64         `db:"trainer_id" json:"trainerId"`
	ClientID           *int64        `db:"client_id" json:"clientId,omitempty"`
	StartTime          time.Time     `db:"start_time" json:"start"`
	EndTime            time.Time     `db:"end_time" json:"end"`
	Status             SessionStatus `db:"status" json:"status"`
	Location           string        `db:"location" json:"location"`
	CreatedBy          int64         `db:"created_by" json:"createdBy"`
	RequestKey         *string       `db:"request_key" json:"-"`
	CancelledBy        *int64        `db:"cancelled_by" json:"cancelledBy,omitempty"`
	CancellationReason *string       `db:"cancellation_reason" json:"cancellationReason,omitempty"`
	CancelledAt        *time.Time    `db:"cancelled_at" json:"cancelledAt,omitempty"`
	ConfirmedAt        *time.Time    `db:"confirmed_at" json:"confirmedAt,omitempty"`
	CompletedAt        *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	CaloriesBurned     *int          `db:"calories_burned" json:"caloriesBurned,omitempty"`
	Notes              *string       `db:"notes" json:"notes,omitempty"`
	RecurrenceGroup    *string       `db:"recurrence_group" json:"recurrenceGroup,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updatedAt"`
}

// Duration is the session length in whole minutes.
func (s *Session) Duration() int {
	return int(s.EndTime.Sub(s.StartTime) / time.Minute)
}

func (s *Session) Window() TimeWindow {
	return TimeWindow{Start: s.StartTime, End: s.EndTime}
}

func (s *Session) HasClient(clientID int64) bool {
	return s.ClientID != nil && *s.ClientID == clientID
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Gap returns the time between two windows, or zero when they overlap.
func (w TimeWindow) Gap(o TimeWindow) time.Duration {
	if w.Overlaps(o) {
		return 0
	}
	if !o.Start.Before(w.End) {
		return o.Start.Sub(w.End)
	}
	return w.Start.Sub(o.End)
}

// Widen extends the window by d on both sides.
func (w TimeWindow) Widen(d time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(-d), End: w.End.Add(d)}
}

func (w TimeWindow) Shift(d time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(d), End: w.End.Add(d)}
}

type CreateSessionParams struct {
	TrainerID  int64
	ClientID   *int64
	StartTime  time.Time
	EndTime    time.Time
	Status     SessionStatus
	Location   string
	CreatedBy  int64
	RequestKey *string
	Notes      *string
	// RecurrenceGroup ties the occurrences of one recurring series together.
	RecurrenceGroup *string
}

// StatusChange describes a single lifecycle write. ClientID is only set
// when an available slot is taken by a client.
type StatusChange struct {
	Status         SessionStatus
	ActorID        int64
	At             time.Time
	ClientID       *int64
	Reason         *string
	CaloriesBurned *int
}

// SessionQuery filters session listings. Zero values are ignored.
type SessionQuery struct {
	TrainerID *int64
	ClientID  *int64
	// OpenForTrainerID widens a ClientID filter to the trainer's unclaimed
	// available slots.
	OpenForTrainerID *int64
	Statuses         []SessionStatus
	From             time.Time
	To               time.Time
	RecurrenceGroup  *string
}

// IsOpenSlotOf reports whether s is an unclaimed available slot of trainerID.
func (s *Session) IsOpenSlotOf(trainerID int64) bool {
	return s.TrainerID == trainerID && s.Status == SessionStatusAvailable && s.ClientID == nil
}
