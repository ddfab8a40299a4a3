package model

type SessionStatus string

const (
	SessionStatusAvailable SessionStatus = "available"
	SessionStatusRequested SessionStatus = "requested"
	SessionStatusBooked    SessionStatus = "booked"
	SessionStatusConfirmed SessionStatus = "confirmed"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusBlocked   SessionStatus = "blocked"
)

// BlockingStatuses occupy a trainer's timeline.
var BlockingStatuses = []SessionStatus{
	SessionStatusBooked,
	SessionStatusConfirmed,
	SessionStatusCompleted,
	SessionStatusBlocked,
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusAvailable, SessionStatusRequested, SessionStatusBooked,
		SessionStatusConfirmed, SessionStatusCompleted, SessionStatusCancelled,
		SessionStatusBlocked:
		return true
	}
	return false
}

func (s SessionStatus) IsBlocking() bool {
	for _, b := range BlockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleClient  Role = "client"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleTrainer || r == RoleClient
}

type AssignmentStatus string

const (
	AssignmentStatusActive   AssignmentStatus = "active"
	AssignmentStatusInactive AssignmentStatus = "inactive"
)

type ConflictType string

const (
	ConflictTypeHard ConflictType = "hard"
	ConflictTypeSoft ConflictType = "soft"
)

const (
	ReasonTrainerDoubleBooked = "trainer double-booked"
	ReasonClientDoubleBooked  = "client double-booked"
	ReasonInsufficientBuffer  = "insufficient travel/rest buffer"
)
