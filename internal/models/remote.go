package models

import "encoding/json"

// RemoteRecord is the server-side view of a record as returned by the
// remote store. UpdatedAt is the server's authoritative modification
// timestamp (unix seconds) used for last-write-wins comparison.
type RemoteRecord struct {
	ServerID   string          `json:"server_id"`
	EntityType EntityType      `json:"entity_type"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  int64           `json:"updated_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}
