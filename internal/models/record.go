// Package models provides data model definitions for Delilog Core.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// EntityType identifies which domain entity a LocalRecord carries.
type EntityType string

const (
	EntityCheckin EntityType = "checkin"
	EntityVehicle EntityType = "vehicle"
	EntityProfile EntityType = "profile"
)

// SyncState is the explicit lifecycle state of a local record with respect
// to the remote store. It replaces "serverID present/absent" probing:
//
//	StateLocal   - created locally, never reached the remote (no server ID)
//	StatePending - has a server ID, but a local edit has not propagated yet
//	StateSynced  - local and remote are known equal
type SyncState string

const (
	StateLocal   SyncState = "local"
	StatePending SyncState = "pending"
	StateSynced  SyncState = "synced"
)

// LocalRecord is the durable envelope for one domain entity. The payload is
// type-specific JSON; sync bookkeeping is uniform across entity types.
type LocalRecord struct {
	LocalID        UUID       `db:"local_id" json:"local_id"`
	EntityType     EntityType `db:"entity_type" json:"entity_type"`
	ServerID       string     `db:"server_id" json:"server_id,omitempty"`
	Payload        []byte     `db:"payload" json:"payload"`
	State          SyncState  `db:"state" json:"state"`
	SyncError      string     `db:"sync_error" json:"sync_error,omitempty"`
	CreatedAtLocal int64      `db:"created_at_local" json:"created_at_local"`
	UpdatedAtLocal int64      `db:"updated_at_local" json:"updated_at_local"`
}

// TableName returns the table name for LocalRecord.
func (LocalRecord) TableName() string {
	return "local_records"
}

// IsSynced reports whether local and remote are known equal.
func (r *LocalRecord) IsSynced() bool {
	return r.State == StateSynced
}

// NeverSynced reports whether the record has never reached the remote.
func (r *LocalRecord) NeverSynced() bool {
	return r.ServerID == ""
}

// MarkSynced records a confirmed remote copy. The server ID is set once and
// never changes afterwards.
func (r *LocalRecord) MarkSynced(serverID string) {
	if r.ServerID == "" {
		r.ServerID = serverID
	}
	r.State = StateSynced
	r.SyncError = ""
}

// MarkDirty flags a local edit that has not propagated yet. Records that
// never reached the remote stay in StateLocal.
func (r *LocalRecord) MarkDirty() {
	if r.ServerID == "" {
		r.State = StateLocal
	} else {
		r.State = StatePending
	}
}

// UpdatedAtLocalTime returns UpdatedAtLocal as time.Time.
func (r *LocalRecord) UpdatedAtLocalTime() time.Time {
	return time.Unix(r.UpdatedAtLocal, 0)
}
