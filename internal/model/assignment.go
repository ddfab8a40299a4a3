package model

import (
	"time"

	"github.com/lib/pq"
)

type Assignment struct {
	ID            int64            `db:"id" json:"id"`
	TrainerID     int64            `db:"trainer_id" json:"trainerId"`
	ClientID      int64            `db:"client_id" json:"clientId"`
	Status        AssignmentStatus `db:"status" json:"status"`
	AssignedBy    int64            `db:"assigned_by" json:"assignedBy"`
	AssignedAt    time.Time        `db:"assigned_at" json:"assignedAt"`
	DeactivatedAt *time.Time       `db:"deactivated_at" json:"deactivatedAt,omitempty"`
	DeactivatedBy *int64           `db:"deactivated_by" json:"deactivatedBy,omitempty"`
	SessionIDs    pq.Int64Array    `db:"session_ids" json:"sessionIds"`
}

type CreateAssignmentParams struct {
	TrainerID  int64
	ClientID   int64
	AssignedBy int64
	SessionIDs []int64
}

// AssignmentResult summarizes an assign operation for the caller.
type AssignmentResult struct {
	Assignment           *Assignment `json:"assignment"`
	Previous             *Assignment `json:"previous,omitempty"`
	ReassignedSessionIDs []int64     `json:"reassignedSessionIds"`
	SkippedSessionIDs    []int64     `json:"skippedSessionIds"`
}

type TrainerWorkload struct {
	TrainerID        int64  `db:"trainer_id" json:"trainerId"`
	TrainerName      string `db:"trainer_name" json:"trainerName"`
	ActiveClients    int    `db:"active_clients" json:"activeClients"`
	AssignedSessions int    `db:"assigned_sessions" json:"assignedSessions"`
}

type AssignmentStatistics struct {
	SessionSummary    map[SessionStatus]int `json:"sessionSummary"`
	TotalSessions     int                   `json:"totalSessions"`
	ActiveAssignments int                   `json:"activeAssignments"`
	UnassignedClients int                   `json:"unassignedClients"`
	AverageCaseload   float64               `json:"averageCaseload"`
	AssignmentRate    float64               `json:"assignmentRate"`
	TrainerWorkload   []TrainerWorkload     `json:"trainerWorkload"`
	GeneratedAt       time.Time             `json:"generatedAt"`
	Degraded          bool                  `json:"degraded"`
	Error             string                `json:"error,omitempty"`
}

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

type AssignmentHealth struct {
	Service         string            `json:"service"`
	Status          HealthStatus      `json:"status"`
	Checks          map[string]string `json:"checks"`
	AssignmentRows  int               `json:"assignmentRows"`
	DuplicateActive int               `json:"duplicateActive"`
	Timestamp       time.Time         `json:"timestamp"`
	Error           string            `json:"error,omitempty"`
}
