package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisclient "github.com/swanstudios/scheduling-server-go/internal/redis"
)

type EventType string

const (
	EventSessionCreated       EventType = "session_created"
	EventSessionBooked        EventType = "session_booked"
	EventSessionStatusChanged EventType = "session_status_changed"
	EventSessionCancelled     EventType = "session_cancelled"
	EventSessionRescheduled   EventType = "session_rescheduled"
	EventScheduleConflict     EventType = "schedule_conflict"
	EventTrainerAssigned      EventType = "trainer_assigned"
	EventSessionReassigned    EventType = "session_reassigned"
	EventSeriesCreated        EventType = "series_created"
	EventSeriesUpdated        EventType = "series_updated"
	EventSeriesCancelled      EventType = "series_cancelled"
)

type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TrainerID  int64     `json:"trainerId,omitempty"`
	ClientID   *int64    `json:"clientId,omitempty"`
	SessionID  int64     `json:"sessionId,omitempty"`
	ActorID    int64     `json:"actorId"`
	Data       any       `json:"data,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewEvent stamps an id and time on a new event.
func NewEvent(t EventType, actorID int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
}

// Channels lists every channel the event is fanned out to.
func (e Event) Channels() []string {
	channels := make([]string, 0, 3)
	if e.TrainerID != 0 {
		channels = append(channels, redisclient.TrainerChannel(e.TrainerID))
	}
	if e.ClientID != nil {
		channels = append(channels, redisclient.ClientChannel(*e.ClientID))
	}
	return append(channels, redisclient.AdminChannel)
}

// Publisher is the outbound notification sink. Delivery to end users is
// somebody else's concern; publishers only hand events off.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type RedisPublisher struct {
	redis *redisclient.Client
}

func NewRedisPublisher(redisClient *redisclient.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := p.redis.Pipeline()
	for _, channel := range event.Channels() {
		pipe.Publish(ctx, channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	log.Debug().
		Str("eventId", event.ID).
		Str("type", string(event.Type)).
		Int64("sessionId", event.SessionID).
		Msg("schedule event published")
	return nil
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
