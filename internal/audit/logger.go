package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate      EventType = "session_create"
	EventSessionBook        EventType = "session_book"
	EventSessionTransition  EventType = "session_transition"
	EventSessionCancel      EventType = "session_cancel"
	EventSessionReschedule  EventType = "session_reschedule"
	EventSessionExpire      EventType = "session_expire"
	EventSessionReassign    EventType = "session_reassign"
	EventSeriesCreate       EventType = "series_create"
	EventSeriesUpdate       EventType = "series_update"
	EventSeriesCancel       EventType = "series_cancel"
	EventConflictRejected   EventType = "conflict_rejected"
	EventConflictOverridden EventType = "conflict_overridden"
	EventTrainerAssign      EventType = "trainer_assign"
	EventTrainerUnassign    EventType = "trainer_unassign"
	EventPermissionDenied   EventType = "permission_denied"
	EventAuthFailure        EventType = "auth_failure"
	EventRateLimitExceed    EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	ActorID   int64
	ActorRole string
	SessionID int64
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "scheduling").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ActorID != 0 {
		logger = logger.With().Int64("actor_id", event.ActorID).Logger()
	}
	if event.ActorRole != "" {
		logger = logger.With().Str("actor_role", event.ActorRole).Logger()
	}
	if event.SessionID != 0 {
		logger = logger.With().Int64("session_id", event.SessionID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	if event.Type == EventPermissionDenied || event.Type == EventAuthFailure {
		logEvent = logger.Warn()
	}
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("scheduling audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Time:
		return e.Time(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
