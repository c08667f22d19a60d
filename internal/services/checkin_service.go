// Package services provides the application-facing API of Delilog Core:
// check-in capture, session queries, vehicle and profile management, and
// sync status. Every write lands in the local store and the sync queue
// before the call returns; network state never blocks a write.
package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antsline/delilog-core/internal/db"
	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/session"
	syncpkg "github.com/antsline/delilog-core/internal/sync"
	"github.com/antsline/delilog-core/internal/sync/queue"
	"github.com/antsline/delilog-core/internal/uuid"
)

// maxAlcoholLevel is the highest plausible breath reading in mg/L.
// Anything above is a device or input error.
const maxAlcoholLevel = 5.0

// SyncTrigger requests an immediate sync cycle. The scheduler satisfies
// this; a nil trigger leaves delivery to the periodic timer.
type SyncTrigger interface {
	TriggerSync()
}

// StatusSource reports sync health. The engine satisfies this.
type StatusSource interface {
	Status() syncpkg.StatusReport
}

// CheckinService coordinates the local store, the session rules, and
// the sync queue.
type CheckinService struct {
	repo     *db.Repository
	queue    *queue.SyncQueue
	sessions *session.Resolver
	status   StatusSource
	trigger  SyncTrigger
	now      func() time.Time
}

// NewCheckinService creates a CheckinService. status and trigger may be
// nil; writes then queue up without an immediate sync nudge.
func NewCheckinService(repo *db.Repository, q *queue.SyncQueue, sessions *session.Resolver, status StatusSource, trigger SyncTrigger) *CheckinService {
	return &CheckinService{
		repo:     repo,
		queue:    q,
		sessions: sessions,
		status:   status,
		trigger:  trigger,
		now:      time.Now,
	}
}

// SetClock replaces the time source for tests.
func (s *CheckinService) SetClock(now func() time.Time) {
	s.now = now
}

// BeforeCheckinInput carries a before-work attestation.
type BeforeCheckinInput struct {
	UserID              string              `json:"user_id"`
	VehicleID           string              `json:"vehicle_id"`
	HealthStatus        models.HealthStatus `json:"health_status"`
	AlcoholLevel        float64             `json:"alcohol_level"`
	AlcoholDetectorUsed bool                `json:"alcohol_detector_used"`
	VehicleInspected    bool                `json:"vehicle_inspected"`
	Notes               string              `json:"notes"`
}

// AfterCheckinInput carries an after-work attestation. SessionID may
// be empty, in which case the open session for (user, vehicle) is
// completed; VehicleID may also be empty when the driver has a single
// open session.
type AfterCheckinInput struct {
	UserID              string              `json:"user_id"`
	VehicleID           string              `json:"vehicle_id"`
	SessionID           models.UUID         `json:"session_id"`
	HealthStatus        models.HealthStatus `json:"health_status"`
	AlcoholLevel        float64             `json:"alcohol_level"`
	AlcoholDetectorUsed bool                `json:"alcohol_detector_used"`
	Notes               string              `json:"notes"`
}

// CreateBeforeCheckin records a before-work check-in, starting a new
// work session. The record is durable locally and queued for sync
// before the call returns.
func (s *CheckinService) CreateBeforeCheckin(input BeforeCheckinInput) (*models.LocalRecord, error) {
	if err := validateCommon(input.UserID, input.HealthStatus, input.AlcoholLevel); err != nil {
		return nil, err
	}
	if input.VehicleID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "vehicle is required for before-work check-in")
	}

	if err := s.sessions.CanStartSession(input.UserID, input.VehicleID); err != nil {
		return nil, err
	}

	now := s.now()
	rec := models.CheckinRecord{
		UserID:              input.UserID,
		VehicleID:           input.VehicleID,
		Type:                models.CheckinBefore,
		SessionID:           models.UUID(uuid.New()),
		WorkDate:            now.Format("2006-01-02"),
		HealthStatus:        input.HealthStatus,
		AlcoholLevel:        input.AlcoholLevel,
		AlcoholDetectorUsed: input.AlcoholDetectorUsed,
		VehicleInspected:    input.VehicleInspected,
		Notes:               input.Notes,
		RecordedAt:          now.Unix(),
	}

	envelope, err := s.persistAndEnqueue(models.EntityCheckin, rec, models.PriorityHigh)
	if err != nil {
		return nil, err
	}

	logging.Info("Before-work check-in recorded",
		map[string]interface{}{
			"user_id":    input.UserID,
			"session_id": rec.SessionID.String(),
			"work_date":  rec.WorkDate,
		})
	return envelope, nil
}

// CreateAfterCheckin records an after-work check-in, completing the
// session. The work date stays the one fixed at session start, even
// past midnight.
func (s *CheckinService) CreateAfterCheckin(input AfterCheckinInput) (*models.LocalRecord, error) {
	if err := validateCommon(input.UserID, input.HealthStatus, input.AlcoholLevel); err != nil {
		return nil, err
	}

	sessionID := input.SessionID
	if sessionID == "" {
		active, err := s.sessions.ActiveSession(input.UserID, input.VehicleID)
		if err != nil {
			return nil, err
		}
		sessionID = active.SessionID
	}

	sess, err := s.sessions.ValidateCompletion(input.UserID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := models.CheckinRecord{
		UserID:              input.UserID,
		VehicleID:           sess.VehicleID,
		Type:                models.CheckinAfter,
		SessionID:           sessionID,
		WorkDate:            sess.WorkDate,
		HealthStatus:        input.HealthStatus,
		AlcoholLevel:        input.AlcoholLevel,
		AlcoholDetectorUsed: input.AlcoholDetectorUsed,
		Notes:               input.Notes,
		RecordedAt:          now.Unix(),
	}

	envelope, err := s.persistAndEnqueue(models.EntityCheckin, rec, models.PriorityHigh)
	if err != nil {
		return nil, err
	}

	logging.Info("After-work check-in recorded",
		map[string]interface{}{
			"user_id":    input.UserID,
			"session_id": sessionID.String(),
			"work_date":  rec.WorkDate,
		})
	return envelope, nil
}

// CheckinUpdate selects the mutable fields of a check-in. Nil fields
// stay untouched; identity fields (user, session, type) never change.
type CheckinUpdate struct {
	HealthStatus *models.HealthStatus `json:"health_status,omitempty"`
	AlcoholLevel *float64             `json:"alcohol_level,omitempty"`
	Notes        *string              `json:"notes,omitempty"`
}

// UpdateCheckin applies an update to an existing check-in and queues
// the change for sync.
func (s *CheckinService) UpdateCheckin(localID models.UUID, update CheckinUpdate) (*models.LocalRecord, error) {
	envelope, err := s.repo.GetRecord(localID)
	if err != nil {
		return nil, err
	}
	if envelope.EntityType != models.EntityCheckin {
		return nil, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("record %s is not a check-in", localID))
	}

	var rec models.CheckinRecord
	if err := json.Unmarshal(envelope.Payload, &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "malformed check-in payload", err)
	}

	if update.HealthStatus != nil {
		if !validHealthStatus(*update.HealthStatus) {
			return nil, apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("unknown health status %q", *update.HealthStatus))
		}
		rec.HealthStatus = *update.HealthStatus
	}
	if update.AlcoholLevel != nil {
		if *update.AlcoholLevel < 0 || *update.AlcoholLevel > maxAlcoholLevel {
			return nil, apperrors.New(apperrors.ErrValidation, "alcohol level out of range")
		}
		rec.AlcoholLevel = *update.AlcoholLevel
	}
	if update.Notes != nil {
		rec.Notes = *update.Notes
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode check-in", err)
	}
	envelope.Payload = payload
	envelope.MarkDirty()

	if err := s.repo.SaveRecord(envelope); err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(models.EntityCheckin, envelope.LocalID,
		models.ActionUpdate, payload, models.PriorityHigh); err != nil {
		return nil, err
	}
	s.nudge()
	return envelope, nil
}

// DeleteCheckin removes a check-in locally and queues the remote
// deletion. A record that never synced simply disappears.
func (s *CheckinService) DeleteCheckin(localID models.UUID) error {
	envelope, err := s.repo.GetRecord(localID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRecord(localID); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"server_id": envelope.ServerID})
	if _, err := s.queue.Enqueue(envelope.EntityType, localID,
		models.ActionDelete, payload, models.PriorityMedium); err != nil {
		return err
	}
	s.nudge()
	return nil
}

// GetCheckin returns one check-in with its envelope state.
func (s *CheckinService) GetCheckin(localID models.UUID) (*models.LocalRecord, *models.CheckinRecord, error) {
	envelope, err := s.repo.GetRecord(localID)
	if err != nil {
		return nil, nil, err
	}
	var rec models.CheckinRecord
	if err := json.Unmarshal(envelope.Payload, &rec); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrValidation, "malformed check-in payload", err)
	}
	return envelope, &rec, nil
}

// ListCheckins returns a user's check-ins, oldest first.
func (s *CheckinService) ListCheckins(userID string) ([]*models.LocalRecord, error) {
	return s.repo.ListRecords(models.EntityCheckin, func(r *models.LocalRecord) bool {
		var rec models.CheckinRecord
		if err := json.Unmarshal(r.Payload, &rec); err != nil {
			return false
		}
		return rec.UserID == userID
	})
}

// ActiveSession returns the open work session for (user, vehicle).
// An empty vehicleID matches any vehicle.
func (s *CheckinService) ActiveSession(userID, vehicleID string) (*models.WorkSession, error) {
	return s.sessions.ActiveSession(userID, vehicleID)
}

// SessionsForDate returns the user's sessions filed under one work date.
func (s *CheckinService) SessionsForDate(userID, workDate string) ([]*models.WorkSession, error) {
	return s.sessions.SessionsForDate(userID, workDate)
}

// =====================================================
// Vehicles and profile
// =====================================================

// SaveVehicle creates or updates a vehicle. An empty localID creates.
func (s *CheckinService) SaveVehicle(localID models.UUID, v models.Vehicle) (*models.LocalRecord, error) {
	if v.PlateNumber == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "plate number is required")
	}

	if localID == "" {
		return s.persistAndEnqueue(models.EntityVehicle, v, models.PriorityMedium)
	}

	envelope, err := s.repo.GetRecord(localID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode vehicle", err)
	}
	envelope.Payload = payload
	envelope.MarkDirty()

	if err := s.repo.SaveRecord(envelope); err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(models.EntityVehicle, envelope.LocalID,
		models.ActionUpdate, payload, models.PriorityMedium); err != nil {
		return nil, err
	}
	s.nudge()
	return envelope, nil
}

// ListVehicles returns all vehicles.
func (s *CheckinService) ListVehicles() ([]*models.LocalRecord, error) {
	return s.repo.ListRecords(models.EntityVehicle, nil)
}

// SaveProfile creates or updates the driver profile. The profile is a
// singleton record.
func (s *CheckinService) SaveProfile(p models.DriverProfile) (*models.LocalRecord, error) {
	if p.DisplayName == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "display name is required")
	}

	existing, err := s.repo.ListRecords(models.EntityProfile, nil)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode profile", err)
	}

	if len(existing) == 0 {
		return s.persistAndEnqueue(models.EntityProfile, p, models.PriorityLow)
	}

	envelope := existing[0]
	envelope.Payload = payload
	envelope.MarkDirty()

	if err := s.repo.SaveRecord(envelope); err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(models.EntityProfile, envelope.LocalID,
		models.ActionUpdate, payload, models.PriorityLow); err != nil {
		return nil, err
	}
	s.nudge()
	return envelope, nil
}

// =====================================================
// Sync visibility
// =====================================================

// GetSyncStatus returns the engine's health snapshot.
func (s *CheckinService) GetSyncStatus() syncpkg.StatusReport {
	if s.status == nil {
		return syncpkg.StatusReport{Status: syncpkg.SyncStatusIdle}
	}
	return s.status.Status()
}

// RetryFailed re-arms permanently failed operations and nudges a sync.
func (s *CheckinService) RetryFailed() (int, error) {
	count, err := s.queue.RetryAll()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.nudge()
	}
	return count, nil
}

// ListFailedOperations returns parked queue items for user review.
func (s *CheckinService) ListFailedOperations() []*models.SyncQueueItem {
	return s.queue.ListFailed()
}

// ListConflicts returns recent conflict resolutions, newest first.
func (s *CheckinService) ListConflicts(limit int) ([]*models.ConflictLog, error) {
	return s.repo.ListConflictLogs(limit)
}

// =====================================================
// Internals
// =====================================================

// persistAndEnqueue writes a new envelope and queues its create, the
// single path every new record takes.
func (s *CheckinService) persistAndEnqueue(entityType models.EntityType, payload interface{}, priority models.Priority) (*models.LocalRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode record", err)
	}

	envelope := &models.LocalRecord{
		LocalID:    models.UUID(uuid.New()),
		EntityType: entityType,
		Payload:    data,
		State:      models.StateLocal,
	}
	if err := s.repo.SaveRecord(envelope); err != nil {
		return nil, err
	}

	if _, err := s.queue.Enqueue(entityType, envelope.LocalID,
		models.ActionCreate, data, priority); err != nil {
		// The record stays local-only; the caller learns the queue is
		// full rather than losing the write silently.
		return nil, err
	}

	s.nudge()
	return envelope, nil
}

// nudge asks for an immediate sync attempt when a trigger is wired.
func (s *CheckinService) nudge() {
	if s.trigger != nil {
		s.trigger.TriggerSync()
	}
}

func validateCommon(userID string, health models.HealthStatus, alcohol float64) error {
	if userID == "" {
		return apperrors.New(apperrors.ErrValidation, "user is required")
	}
	if !validHealthStatus(health) {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown health status %q", health))
	}
	if alcohol < 0 || alcohol > maxAlcoholLevel {
		return apperrors.New(apperrors.ErrValidation, "alcohol level out of range")
	}
	return nil
}

func validHealthStatus(h models.HealthStatus) bool {
	switch h {
	case models.HealthGood, models.HealthNormal, models.HealthPoor:
		return true
	}
	return false
}
