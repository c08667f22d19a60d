// Package models provides data model definitions for Delilog Core.
package models

import "time"

// ConflictLog records resolved concurrent edits for user awareness. With
// record-granularity last-writer-wins, the losing side's edits are discarded
// silently unless they are logged here.
type ConflictLog struct {
	ID              UUID       `db:"id" json:"id"`
	EntityType      EntityType `db:"entity_type" json:"entity_type"`
	LocalID         UUID       `db:"local_id" json:"local_id"`
	LocalTimestamp  int64      `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64      `db:"remote_timestamp" json:"remote_timestamp"`
	Winner          string     `db:"winner" json:"winner"` // local, remote
	DetectedAt      int64      `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
