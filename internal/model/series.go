package model

import "time"

// SeriesResult describes a write to every remaining occurrence of a
// recurring series.
type SeriesResult struct {
	GroupID  string     `json:"recurrenceGroup"`
	Count    int        `json:"count"`
	Sessions []Session  `json:"sessions"`
	Warnings []Conflict `json:"warnings"`
}

// OccurrenceConflict lists the hard conflicts of one occurrence.
type OccurrenceConflict struct {
	SessionID int64      `json:"sessionId,omitempty"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Conflicts []Conflict `json:"conflicts"`
}

// SeriesConflictReport is attached to the conflict error that rejects a
// series write. Nothing in the series was written.
type SeriesConflictReport struct {
	Occurrences []OccurrenceConflict `json:"occurrences"`
}

// ScheduleStats counts the sessions visible to one user. The optional
// fields depend on the role.
type ScheduleStats struct {
	TotalSessions      int  `json:"totalSessions"`
	AvailableSessions  int  `json:"availableSessions"`
	BookedSessions     int  `json:"bookedSessions"`
	CompletedSessions  int  `json:"completedSessions"`
	CancelledSessions  int  `json:"cancelledSessions"`
	UserBookedSessions *int `json:"userBookedSessions,omitempty"`
	AssignedSessions   *int `json:"assignedSessions,omitempty"`
	TotalClients       *int `json:"totalClients,omitempty"`
	TotalTrainers      *int `json:"totalTrainers,omitempty"`
}
