// Package models provides data model definitions for Delilog Core.
package models

// CheckinType distinguishes the two attestation kinds of a work session.
type CheckinType string

const (
	CheckinBefore CheckinType = "before"
	CheckinAfter  CheckinType = "after"
)

// HealthStatus is the driver's self-reported condition at check-in time.
type HealthStatus string

const (
	HealthGood   HealthStatus = "good"
	HealthNormal HealthStatus = "normal"
	HealthPoor   HealthStatus = "poor"
)

// CheckinRecord is the payload of an EntityCheckin LocalRecord: one
// before-work or after-work compliance attestation.
type CheckinRecord struct {
	UserID              string       `json:"user_id"`
	VehicleID           string       `json:"vehicle_id"`
	Type                CheckinType  `json:"type"`
	SessionID           UUID         `json:"session_id"`
	WorkDate            string       `json:"work_date"` // YYYY-MM-DD, fixed at session start
	HealthStatus        HealthStatus `json:"health_status"`
	AlcoholLevel        float64      `json:"alcohol_level"` // mg/L breath reading
	AlcoholDetectorUsed bool         `json:"alcohol_detector_used"`
	VehicleInspected    bool         `json:"vehicle_inspected"` // before-work only
	Notes               string       `json:"notes,omitempty"`
	RecordedAt          int64        `json:"recorded_at"`
}

// Vehicle is the payload of an EntityVehicle LocalRecord.
type Vehicle struct {
	PlateNumber string `json:"plate_number"`
	Name        string `json:"name,omitempty"`
	IsDefault   bool   `json:"is_default"`
}

// DriverProfile is the payload of an EntityProfile LocalRecord.
type DriverProfile struct {
	DisplayName string `json:"display_name"`
	CompanyName string `json:"company_name,omitempty"`
	OfficeName  string `json:"office_name,omitempty"`
}
