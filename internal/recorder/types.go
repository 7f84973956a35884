package recorder

import (
	"fmt"
	"time"

	"backend-stridetrack/internal/shared/geo"
)

// Status is the lifecycle state of a recording session.
type Status int

const (
	// StatusIdle means no session is open.
	StatusIdle Status = iota
	// StatusRunning means fixes and ticks are being accumulated.
	StatusRunning
	// StatusFinished means the session is closed and awaits save or discard.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StatusIdle
	case "running":
		*s = StatusRunning
	case "finished":
		*s = StatusFinished
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Sample is one fix delivered by a LocationSource.
type Sample struct {
	geo.Coordinate
	At time.Time
}

// RoutePoint is an accepted sample as stored on the route.
type RoutePoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// State is a read-only view of the session as seen by the UI. Route shares
// storage with the recorder and must not be modified.
type State struct {
	SessionID            string          `json:"session_id,omitempty"`
	Status               Status          `json:"status"`
	Route                []RoutePoint    `json:"route"`
	StartTime            *time.Time      `json:"start_time,omitempty"`
	EndTime              *time.Time      `json:"end_time,omitempty"`
	DistanceMeters       float64         `json:"distance_meters"`
	DurationSeconds      int64           `json:"duration_seconds"`
	PaceKmPerHour        float64         `json:"pace_kmh"`
	CaloriesEstimate     int             `json:"calories"`
	LastKnownLocation    *geo.Coordinate `json:"last_known_location,omitempty"`
	AwaitingConfirmation bool            `json:"awaiting_confirmation"`
}

// Snapshot is the finished session handed to persistence.
type Snapshot struct {
	DistanceMeters   float64          `json:"distance_meters"`
	DurationSeconds  int64            `json:"duration_seconds"`
	CaloriesEstimate int              `json:"calories"`
	Route            []geo.Coordinate `json:"route"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
}
