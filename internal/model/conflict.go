package model

import "time"

type Conflict struct {
	Type       ConflictType  `json:"type"`
	Reason     string        `json:"reason"`
	SessionID  int64         `json:"conflictingSessionId"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Status     SessionStatus `json:"status"`
	Suggestion string        `json:"suggestion"`
}

type Alternative struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

type ConflictReport struct {
	Conflicts    []Conflict    `json:"conflicts"`
	Alternatives []Alternative `json:"alternatives"`
}

func (r *ConflictReport) HasHard() bool {
	for _, c := range r.Conflicts {
		if c.Type == ConflictTypeHard {
			return true
		}
	}
	return false
}

// Warnings returns the soft conflicts.
func (r *ConflictReport) Warnings() []Conflict {
	var soft []Conflict
	for _, c := range r.Conflicts {
		if c.Type == ConflictTypeSoft {
			soft = append(soft, c)
		}
	}
	return soft
}

// ProposeResult is returned by successful writes that may carry soft
// conflict warnings.
type ProposeResult struct {
	Session  *Session   `json:"session"`
	Warnings []Conflict `json:"warnings"`
	Replayed bool       `json:"replayed"`
}
