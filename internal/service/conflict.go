package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

type ConflictQuery struct {
	TrainerID int64
	ClientID  *int64
	Window    model.TimeWindow
	// ExcludeID skips the session being modified.
	ExcludeID int64
}

// ConflictDetector classifies sessions near a proposed window. A session
// overlapping the window on the trainer's or the client's timeline is a hard
// conflict. A trainer session that does not overlap but sits closer than the
// buffer is a soft conflict.
type ConflictDetector struct {
	buffer time.Duration
}

func NewConflictDetector(buffer time.Duration) *ConflictDetector {
	if buffer < 0 {
		buffer = 0
	}
	return &ConflictDetector{buffer: buffer}
}

func (d *ConflictDetector) Buffer() time.Duration {
	return d.buffer
}

type rankedConflict struct {
	model.Conflict
	gap        time.Duration
	startDelta time.Duration
}

// Detect never fails for an empty result. Only store errors are returned.
func (d *ConflictDetector) Detect(ctx context.Context, sessions repository.SessionRepository, q ConflictQuery) (*model.ConflictReport, error) {
	seen := make(map[int64]bool)
	var ranked []rankedConflict

	trainerSessions, err := sessions.FindBlockingForTrainer(ctx, q.TrainerID, q.Window.Widen(d.buffer))
	if err != nil {
		return nil, fmt.Errorf("load trainer sessions: %w", err)
	}
	for _, s := range trainerSessions {
		if s.ID == q.ExcludeID || seen[s.ID] {
			continue
		}
		gap := q.Window.Gap(s.Window())
		switch {
		case s.Window().Overlaps(q.Window):
			ranked = append(ranked, d.rank(s, q.Window, model.ConflictTypeHard, model.ReasonTrainerDoubleBooked))
		case gap < d.buffer:
			ranked = append(ranked, d.rank(s, q.Window, model.ConflictTypeSoft, model.ReasonInsufficientBuffer))
		default:
			continue
		}
		seen[s.ID] = true
	}

	if q.ClientID != nil {
		clientSessions, err := sessions.FindBlockingForClient(ctx, *q.ClientID, q.Window)
		if err != nil {
			return nil, fmt.Errorf("load client sessions: %w", err)
		}
		for _, s := range clientSessions {
			if s.ID == q.ExcludeID || seen[s.ID] {
				continue
			}
			ranked = append(ranked, d.rank(s, q.Window, model.ConflictTypeHard, model.ReasonClientDoubleBooked))
			seen[s.ID] = true
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Type != b.Type {
			return a.Type == model.ConflictTypeHard
		}
		if a.gap != b.gap {
			return a.gap < b.gap
		}
		if a.startDelta != b.startDelta {
			return a.startDelta < b.startDelta
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.SessionID < b.SessionID
	})

	report := &model.ConflictReport{
		Conflicts:    make([]model.Conflict, 0, len(ranked)),
		Alternatives: []model.Alternative{},
	}
	for _, r := range ranked {
		report.Conflicts = append(report.Conflicts, r.Conflict)
	}
	return report, nil
}

func (d *ConflictDetector) rank(s model.Session, window model.TimeWindow, kind model.ConflictType, reason string) rankedConflict {
	delta := s.StartTime.Sub(window.Start)
	if delta < 0 {
		delta = -delta
	}
	return rankedConflict{
		Conflict: model.Conflict{
			Type:       kind,
			Reason:     reason,
			SessionID:  s.ID,
			Start:      s.StartTime,
			End:        s.EndTime,
			Status:     s.Status,
			Suggestion: d.suggestion(kind),
		},
		gap:        window.Gap(s.Window()),
		startDelta: delta,
	}
}

func (d *ConflictDetector) suggestion(kind model.ConflictType) string {
	if kind == model.ConflictTypeHard {
		return "choose one of the alternative slots"
	}
	return fmt.Sprintf("leave at least %d minutes between sessions", int(d.buffer/time.Minute))
}
