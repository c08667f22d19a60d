// Package models provides data model definitions for Delilog Core.
package models

// SessionStatus is the lifecycle status of a work session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// WorkSession pairs one before-work and one after-work check-in for one
// user/vehicle/shift. Sessions are derived from check-in records, never
// persisted on their own. WorkDate is fixed at session start and does not
// change even when the after-work check-in lands on a later calendar day.
type WorkSession struct {
	SessionID      UUID           `json:"session_id"`
	UserID         string         `json:"user_id"`
	VehicleID      string         `json:"vehicle_id"`
	WorkDate       string         `json:"work_date"` // YYYY-MM-DD
	BeforeRecordID UUID           `json:"before_record_id"`
	AfterRecordID  UUID           `json:"after_record_id,omitempty"`
	Before         *CheckinRecord `json:"before,omitempty"`
	After          *CheckinRecord `json:"after,omitempty"`
	Status         SessionStatus  `json:"status"`
}

// Completed reports whether both attestations are attached.
func (s *WorkSession) Completed() bool {
	return s.Status == SessionCompleted
}
