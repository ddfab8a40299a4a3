package service

import (
	"context"

	"github.com/swanstudios/scheduling-server-go/internal/model"
)

func isBookedStatus(s model.SessionStatus) bool {
	return s == model.SessionStatusBooked || s == model.SessionStatusConfirmed
}

// ScheduleStats counts the sessions the actor can list. Available and
// booked only count sessions that have not started yet.
func (l *SessionLifecycle) ScheduleStats(ctx context.Context, actor model.Actor) (*model.ScheduleStats, error) {
	sessions, err := l.ListSessions(ctx, actor, model.SessionQuery{})
	if err != nil {
		return nil, err
	}

	now := l.now()
	stats := &model.ScheduleStats{TotalSessions: len(sessions)}
	var own, assigned int
	for _, s := range sessions {
		upcoming := !s.StartTime.Before(now)
		switch {
		case s.Status == model.SessionStatusAvailable && upcoming:
			stats.AvailableSessions++
		case isBookedStatus(s.Status) && upcoming:
			stats.BookedSessions++
		case s.Status == model.SessionStatusCompleted:
			stats.CompletedSessions++
		case s.Status == model.SessionStatusCancelled:
			stats.CancelledSessions++
		}
		if s.HasClient(actor.ID) && isBookedStatus(s.Status) {
			own++
		}
		if s.ClientID != nil && s.Status != model.SessionStatusCancelled {
			assigned++
		}
	}

	switch actor.Role {
	case model.RoleClient:
		stats.UserBookedSessions = &own
	case model.RoleTrainer:
		stats.AssignedSessions = &assigned
	case model.RoleAdmin:
		counts, err := l.store.Users().CountByRole(ctx)
		if err != nil {
			return nil, err
		}
		clients, trainers := counts[model.RoleClient], counts[model.RoleTrainer]
		stats.TotalClients = &clients
		stats.TotalTrainers = &trainers
	}
	return stats, nil
}
