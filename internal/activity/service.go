// Package activity persists confirmed recordings and exports them.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend-stridetrack/internal/db"
	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/shared/geo"

	"github.com/google/uuid"
)

var ErrValidation = errors.New("invalid activity")

type Service struct {
	db db.Querier
}

func NewService(q db.Querier) *Service {
	return &Service{db: q}
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Activity, error) {
	a, err := req.validate()
	if err != nil {
		return Activity{}, err
	}
	a.ID = uuid.NewString()
	a.UserID = userID

	path, err := json.Marshal(a.Path)
	if err != nil {
		return Activity{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO activities (id, user_id, distance_meters, duration_seconds, calories, path, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, a.ID, a.UserID, a.Distance, a.Duration, a.Calories, path, a.StartTime, a.EndTime)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return Activity{}, err
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Activity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, distance_meters, duration_seconds, calories, path, start_time, end_time, created_at
		FROM activities WHERE user_id=$1
		ORDER BY start_time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := []Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// Get returns pgx.ErrNoRows when the activity does not exist or belongs to
// another user.
func (s *Service) Get(ctx context.Context, userID, id string) (Activity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, distance_meters, duration_seconds, calories, path, start_time, end_time, created_at
		FROM activities WHERE id=$1 AND user_id=$2
	`, id, userID)
	return scanActivity(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (Activity, error) {
	var (
		a    Activity
		path []byte
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Distance, &a.Duration, &a.Calories, &path, &a.StartTime, &a.EndTime, &a.CreatedAt); err != nil {
		return Activity{}, err
	}
	if err := json.Unmarshal(path, &a.Path); err != nil {
		return Activity{}, fmt.Errorf("decode path of activity %s: %w", a.ID, err)
	}
	return a, nil
}

// FromSnapshot maps a finished recording to the save payload.
func FromSnapshot(snap recorder.Snapshot) CreateRequest {
	distance := snap.DistanceMeters
	duration := snap.DurationSeconds
	start := snap.StartTime
	end := snap.EndTime

	path := make([]PathPoint, len(snap.Route))
	for i, c := range snap.Route {
		lat, lng := c.Lat, c.Lng
		path[i] = PathPoint{Lat: &lat, Lng: &lng}
	}

	return CreateRequest{
		Distance:  &distance,
		Duration:  &duration,
		Calories:  snap.CaloriesEstimate,
		Path:      path,
		StartTime: &start,
		EndTime:   &end,
	}
}

func (r CreateRequest) validate() (Activity, error) {
	if r.Distance == nil || r.Duration == nil || r.StartTime == nil || r.EndTime == nil || r.Path == nil {
		return Activity{}, fmt.Errorf("%w: distance, duration, path, start_time and end_time are required", ErrValidation)
	}
	if *r.Distance < 0 || *r.Duration < 0 || r.Calories < 0 {
		return Activity{}, fmt.Errorf("%w: distance, duration and calories must not be negative", ErrValidation)
	}
	if r.EndTime.Before(*r.StartTime) {
		return Activity{}, fmt.Errorf("%w: end_time is before start_time", ErrValidation)
	}

	path := make([]geo.Coordinate, len(r.Path))
	for i, p := range r.Path {
		if p.Lat == nil || p.Lng == nil {
			return Activity{}, fmt.Errorf("%w: path point %d needs lat and lng", ErrValidation, i)
		}
		if *p.Lat < -90 || *p.Lat > 90 || *p.Lng < -180 || *p.Lng > 180 {
			return Activity{}, fmt.Errorf("%w: path point %d is out of range", ErrValidation, i)
		}
		path[i] = geo.Coordinate{Lat: *p.Lat, Lng: *p.Lng}
	}

	return Activity{
		Distance:  *r.Distance,
		Duration:  *r.Duration,
		Calories:  r.Calories,
		Path:      path,
		StartTime: r.StartTime.UTC(),
		EndTime:   r.EndTime.UTC(),
	}, nil
}
