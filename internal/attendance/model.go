package attendance

import (
	"time"

	"geoattend/internal/geo"
)

// ArrivalStatus classifies a check-in relative to the session open time.
type ArrivalStatus string

const (
	ArrivalOnTime ArrivalStatus = "on time"
	ArrivalLate   ArrivalStatus = "late"
)

// Geofence is a circular boundary in which check-ins are accepted.
type Geofence struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

// Center returns the geofence center point.
func (g Geofence) Center() geo.Point {
	return geo.Point{Lat: g.Lat, Lng: g.Lng}
}

// GeofenceInput is an unvalidated geofence; nil fields are missing.
type GeofenceInput struct {
	Lat    *float64
	Lng    *float64
	Radius *float64
}

// Session is an instructor-opened attendance window.
type Session struct {
	ID       string
	Code     string
	Geofence Geofence
	OpenedAt time.Time
}

// User is a student identified by a unique lowercased email.
type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// CheckIn is an accepted attendance record.
type CheckIn struct {
	ID        string
	UserID    string
	SessionID string
	Lat       float64
	Lng       float64
	Timestamp time.Time
	Distance  float64
	Arrival   ArrivalStatus
}

// CheckInView is a check-in joined with its user.
type CheckInView struct {
	CheckIn
	Username string
	Email    string
}

// CheckInFilter narrows ListCheckIns.
type CheckInFilter struct {
	SessionID string
	Limit     int
	Offset    int
}

// Attempt is an audit record of a check-in rejected for being outside the geofence.
// It is never counted as attendance.
type Attempt struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Distance    float64   `json:"distance"`
	Reason      string    `json:"reason"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// ReasonOutOfRange marks attempts outside the geofence radius.
const ReasonOutOfRange = "out_of_range"

// LateCount aggregates a user's check-ins for reporting.
type LateCount struct {
	Username string
	Email    string
	Late     int
	Total    int
}
