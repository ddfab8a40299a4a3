package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestTimeWindowOverlaps(t *testing.T) {
	base := TimeWindow{Start: at(10, 0), End: at(11, 0)}

	tests := []struct {
		name     string
		other    TimeWindow
		overlaps bool
	}{
		{"identical", base, true},
		{"partial tail", TimeWindow{Start: at(10, 30), End: at(11, 30)}, true},
		{"contained", TimeWindow{Start: at(10, 15), End: at(10, 45)}, true},
		{"adjacent after", TimeWindow{Start: at(11, 0), End: at(12, 0)}, false},
		{"adjacent before", TimeWindow{Start: at(9, 0), End: at(10, 0)}, false},
		{"disjoint", TimeWindow{Start: at(13, 0), End: at(14, 0)}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.overlaps, base.Overlaps(tc.other))
			assert.Equal(t, tc.overlaps, tc.other.Overlaps(base))
		})
	}
}

func TestTimeWindowGap(t *testing.T) {
	base := TimeWindow{Start: at(10, 0), End: at(11, 0)}

	assert.Equal(t, time.Duration(0), base.Gap(TimeWindow{Start: at(10, 30), End: at(11, 30)}))
	assert.Equal(t, 10*time.Minute, base.Gap(TimeWindow{Start: at(11, 10), End: at(12, 0)}))
	assert.Equal(t, 5*time.Minute, base.Gap(TimeWindow{Start: at(9, 0), End: at(9, 55)}))
	assert.Equal(t, time.Duration(0), base.Gap(TimeWindow{Start: at(11, 0), End: at(12, 0)}))
}

func TestSessionHelpers(t *testing.T) {
	clientID := int64(12)
	s := &Session{StartTime: at(10, 0), EndTime: at(11, 15), ClientID: &clientID}

	assert.Equal(t, 75, s.Duration())
	assert.True(t, s.HasClient(12))
	assert.False(t, s.HasClient(13))
	assert.False(t, (&Session{}).HasClient(0))
}

func TestSessionStatusPredicates(t *testing.T) {
	for _, s := range BlockingStatuses {
		assert.True(t, s.IsBlocking(), s)
	}
	assert.False(t, SessionStatusRequested.IsBlocking())
	assert.False(t, SessionStatusAvailable.IsBlocking())
	assert.False(t, SessionStatusCancelled.IsBlocking())

	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
	assert.False(t, SessionStatusBlocked.IsTerminal())

	assert.True(t, SessionStatusBooked.Valid())
	assert.False(t, SessionStatus("scheduled").Valid())
}
