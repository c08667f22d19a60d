// Package session derives work sessions from check-in records and
// answers consistency questions about them. Sessions are never stored;
// they are always reconstructed from the before/after check-in pair.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/models"
)

// LookupStrategy finds work sessions in the local store. Two
// implementations exist: ViewBacked pushes the pairing into SQL,
// ScanBacked decodes every check-in envelope in Go. They must agree;
// ScanBacked doubles as the reference for tests.
type LookupStrategy interface {
	// OpenSessions returns the sessions that have a before-work
	// check-in and no after-work check-in yet, oldest first. Sessions
	// are keyed by (user, vehicle); an empty vehicleID matches every
	// vehicle.
	OpenSessions(userID, vehicleID string) ([]*models.WorkSession, error)

	// SessionByID reconstructs one session, or a NOT_FOUND error when
	// no check-in references the ID.
	SessionByID(sessionID models.UUID) (*models.WorkSession, error)

	// SessionsForDate returns the user's sessions whose work date
	// matches, regardless of completion.
	SessionsForDate(userID, workDate string) ([]*models.WorkSession, error)
}

// checkinEntry pairs a decoded check-in with its envelope ID.
type checkinEntry struct {
	localID models.UUID
	rec     models.CheckinRecord
}

// assemble builds a WorkSession from the check-ins sharing a session ID.
// The before-work check-in fixes user, vehicle, and work date; an
// after-work check-in completes the session.
func assemble(sessionID models.UUID, entries []checkinEntry) *models.WorkSession {
	s := &models.WorkSession{
		SessionID: sessionID,
		Status:    models.SessionInProgress,
	}

	for i := range entries {
		e := entries[i]
		switch e.rec.Type {
		case models.CheckinBefore:
			s.UserID = e.rec.UserID
			s.VehicleID = e.rec.VehicleID
			s.WorkDate = e.rec.WorkDate
			s.BeforeRecordID = e.localID
			rec := e.rec
			s.Before = &rec
		case models.CheckinAfter:
			s.AfterRecordID = e.localID
			rec := e.rec
			s.After = &rec
		}
	}

	if s.Before != nil && s.After != nil {
		s.Status = models.SessionCompleted
	}
	return s
}

// =====================================================
// Scan-backed lookup
// =====================================================

// RecordLister is the slice of the repository the scan strategy reads.
type RecordLister interface {
	ListRecords(entityType models.EntityType, keep func(*models.LocalRecord) bool) ([]*models.LocalRecord, error)
}

// ScanBacked reconstructs sessions by decoding every check-in envelope.
// It needs no schema support beyond the record table, which also makes
// it the anomaly detector: a scan sees every open session, including
// ones a partial sync left behind.
type ScanBacked struct {
	store RecordLister
}

// NewScanBacked creates a scan-backed lookup over the given store.
func NewScanBacked(store RecordLister) *ScanBacked {
	return &ScanBacked{store: store}
}

// collect groups the user's check-ins by session ID. An empty userID
// matches all users.
func (s *ScanBacked) collect(userID string) (map[models.UUID][]checkinEntry, error) {
	records, err := s.store.ListRecords(models.EntityCheckin, nil)
	if err != nil {
		return nil, err
	}

	groups := make(map[models.UUID][]checkinEntry)
	for _, r := range records {
		var rec models.CheckinRecord
		if err := json.Unmarshal(r.Payload, &rec); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation,
				fmt.Sprintf("malformed check-in payload in record %s", r.LocalID), err)
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		groups[rec.SessionID] = append(groups[rec.SessionID], checkinEntry{localID: r.LocalID, rec: rec})
	}
	return groups, nil
}

func (s *ScanBacked) OpenSessions(userID, vehicleID string) ([]*models.WorkSession, error) {
	groups, err := s.collect(userID)
	if err != nil {
		return nil, err
	}

	var open []*models.WorkSession
	for id, entries := range groups {
		sess := assemble(id, entries)
		if sess.Before == nil || sess.After != nil {
			continue
		}
		// The before check-in fixes the session's vehicle.
		if vehicleID != "" && sess.VehicleID != vehicleID {
			continue
		}
		open = append(open, sess)
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].Before.RecordedAt < open[j].Before.RecordedAt
	})
	return open, nil
}

func (s *ScanBacked) SessionByID(sessionID models.UUID) (*models.WorkSession, error) {
	groups, err := s.collect("")
	if err != nil {
		return nil, err
	}

	entries, ok := groups[sessionID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("session %s not found", sessionID))
	}
	return assemble(sessionID, entries), nil
}

func (s *ScanBacked) SessionsForDate(userID, workDate string) ([]*models.WorkSession, error) {
	groups, err := s.collect(userID)
	if err != nil {
		return nil, err
	}

	var out []*models.WorkSession
	for id, entries := range groups {
		sess := assemble(id, entries)
		if sess.WorkDate == workDate {
			out = append(out, sess)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Before.RecordedAt < out[j].Before.RecordedAt
	})
	return out, nil
}

// =====================================================
// View-backed lookup
// =====================================================

// ViewBacked answers lookups through the checkin_sessions SQL view, so
// the before/after pairing runs inside SQLite instead of a full Go-side
// scan. Candidate session IDs come from the view; full sessions are
// then rebuilt from their envelopes.
type ViewBacked struct {
	db *sql.DB
}

// NewViewBacked creates a view-backed lookup over the given database.
func NewViewBacked(db *sql.DB) *ViewBacked {
	return &ViewBacked{db: db}
}

func (v *ViewBacked) OpenSessions(userID, vehicleID string) ([]*models.WorkSession, error) {
	// The vehicle filter reads the before row only; after rows inherit
	// the vehicle and may predate that convention.
	query := `
	SELECT session_id FROM checkin_sessions
	WHERE user_id = ?
	GROUP BY session_id
	HAVING SUM(checkin_type = 'before') > 0 AND SUM(checkin_type = 'after') = 0
	   AND (? = '' OR MAX(CASE WHEN checkin_type = 'before' THEN vehicle_id END) = ?)
	ORDER BY MIN(created_at_local)
	`
	ids, err := v.querySessionIDs(query, userID, vehicleID, vehicleID)
	if err != nil {
		return nil, err
	}
	return v.loadSessions(ids)
}

func (v *ViewBacked) SessionByID(sessionID models.UUID) (*models.WorkSession, error) {
	entries, err := v.loadEntries(sessionID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("session %s not found", sessionID))
	}
	return assemble(sessionID, entries), nil
}

func (v *ViewBacked) SessionsForDate(userID, workDate string) ([]*models.WorkSession, error) {
	query := `
	SELECT session_id FROM checkin_sessions
	WHERE user_id = ? AND work_date = ?
	GROUP BY session_id
	ORDER BY MIN(created_at_local)
	`
	ids, err := v.querySessionIDs(query, userID, workDate)
	if err != nil {
		return nil, err
	}
	return v.loadSessions(ids)
}

func (v *ViewBacked) querySessionIDs(query string, args ...interface{}) ([]models.UUID, error) {
	rows, err := v.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "session lookup failed", err)
	}
	defer rows.Close()

	var ids []models.UUID
	for rows.Next() {
		var id models.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "session lookup failed", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (v *ViewBacked) loadSessions(ids []models.UUID) ([]*models.WorkSession, error) {
	out := make([]*models.WorkSession, 0, len(ids))
	for _, id := range ids {
		entries, err := v.loadEntries(id)
		if err != nil {
			return nil, err
		}
		out = append(out, assemble(id, entries))
	}
	return out, nil
}

func (v *ViewBacked) loadEntries(sessionID models.UUID) ([]checkinEntry, error) {
	query := `
	SELECT local_id, payload FROM local_records
	WHERE entity_type = 'checkin' AND json_extract(CAST(payload AS TEXT), '$.session_id') = ?
	`
	rows, err := v.db.Query(query, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "session load failed", err)
	}
	defer rows.Close()

	var entries []checkinEntry
	for rows.Next() {
		var localID models.UUID
		var payload []byte
		if err := rows.Scan(&localID, &payload); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "session load failed", err)
		}
		var rec models.CheckinRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation,
				fmt.Sprintf("malformed check-in payload in record %s", localID), err)
		}
		entries = append(entries, checkinEntry{localID: localID, rec: rec})
	}
	return entries, rows.Err()
}
