package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{
		Type:      EventSessionCancel,
		ActorID:   12,
		ActorRole: "client",
		SessionID: 40,
		Details:   map[string]interface{}{"reason": "sick", "fromStatus": "booked"},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduling", entry["audit"])
	assert.Equal(t, "session_cancel", entry["event_type"])
	assert.Equal(t, float64(12), entry["actor_id"])
	assert.Equal(t, float64(40), entry["session_id"])
	assert.Equal(t, "sick", entry["reason"])
	assert.Equal(t, "info", entry["level"])
}

func TestLogPermissionDeniedIsWarn(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{Type: EventPermissionDenied, ActorID: 3})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLog(t)

	req := httptest.NewRequest("POST", "/sessions/assign-trainer", nil)
	req.Header.Set("X-Real-IP", "10.0.0.8")
	req.Header.Set("User-Agent", "dashboard/1.0")

	LogFromRequest(req, Event{Type: EventTrainerAssign, ActorID: 1})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "10.0.0.8", entry["ip"])
	assert.Equal(t, "dashboard/1.0", entry["user_agent"])
}
