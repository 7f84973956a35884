package activity

import (
	"time"

	"backend-stridetrack/internal/shared/geo"
)

type Activity struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Distance  float64          `json:"distance"`
	Duration  int64            `json:"duration"`
	Calories  int              `json:"calories"`
	Path      []geo.Coordinate `json:"path"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	CreatedAt time.Time        `json:"created_at"`
}

// CreateRequest is the save payload. Pointer fields distinguish a missing
// value from zero.
type CreateRequest struct {
	Distance  *float64    `json:"distance"`
	Duration  *int64      `json:"duration"`
	Calories  int         `json:"calories"`
	Path      []PathPoint `json:"path"`
	StartTime *time.Time  `json:"start_time"`
	EndTime   *time.Time  `json:"end_time"`
}

type PathPoint struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}
