package models

import "time"

// ValidationDecision captures the lifecycle of a supervisor-dependent request.
type ValidationDecision string

const (
	DecisionPending  ValidationDecision = "pending"
	DecisionApproved ValidationDecision = "approved"
	DecisionRejected ValidationDecision = "rejected"
)

// ValidationRequest links a dependent (student or patient) to the supervisor
// (professional or student) asked to validate them. At most one pending
// request exists per requester at a time.
type ValidationRequest struct {
	ID          string             `db:"id" json:"id"`
	RequesterID string             `db:"requester_id" json:"requester_id"`
	TargetID    string             `db:"target_id" json:"target_id"`
	Decision    ValidationDecision `db:"decision" json:"decision"`
	RequestedAt time.Time          `db:"requested_at" json:"requested_at"`
	DecidedAt   *time.Time         `db:"decided_at" json:"decided_at,omitempty"`
}

// ValidationOutcome carries everything a decision commits in one unit: the
// ledger close, the requester's status flip, and (when a student approves a
// patient) the file assignment.
type ValidationOutcome struct {
	Decision        ValidationDecision
	DecidedAt       time.Time
	RequesterID     string
	ExpectedStatus  []UserStatus
	NextStatus      UserStatus
	ApprovedBy      *string
	AssignStudentID string // non-empty opens the requester's file for this student
}

// PendingValidation is the listing projection returned to supervisors,
// joined with the requester's identity.
type PendingValidation struct {
	ValidationRequest
	RequesterName  string   `db:"requester_name" json:"requester_name"`
	RequesterEmail string   `db:"requester_email" json:"requester_email"`
	RequesterRole  UserRole `db:"requester_role" json:"requester_role"`
}
