// Package location provides the LocationSource implementations used by the
// recorder: fixes pushed over HTTP, fixes relayed from a device over MQTT and
// replays of a recorded route.
package location

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/shared/geo"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrInvalidFix   = errors.New("invalid location fix")
	ErrNoSubscriber = errors.New("no active location subscriber")
)

// Fix is a single device report. A report with Error set carries no position.
type Fix struct {
	Lat        *float64  `json:"lat,omitempty" msgpack:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty" msgpack:"lng,omitempty"`
	RecordedAt time.Time `json:"recorded_at,omitempty" msgpack:"recorded_at,omitempty"`
	Error      string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// FixError is a failure reported by the device for one fix.
type FixError struct {
	Reason string
}

func (e *FixError) Error() string {
	return "location fix failed: " + e.Reason
}

// Sample converts the report to a recorder sample. Device failures come back
// as *FixError, malformed positions as ErrInvalidFix.
func (f Fix) Sample() (recorder.Sample, error) {
	if f.Error != "" {
		return recorder.Sample{}, &FixError{Reason: f.Error}
	}
	if f.Lat == nil || f.Lng == nil {
		return recorder.Sample{}, fmt.Errorf("%w: lat and lng are required", ErrInvalidFix)
	}
	if *f.Lat < -90 || *f.Lat > 90 || *f.Lng < -180 || *f.Lng > 180 {
		return recorder.Sample{}, fmt.Errorf("%w: coordinate out of range", ErrInvalidFix)
	}
	return recorder.Sample{
		Coordinate: geo.Coordinate{Lat: *f.Lat, Lng: *f.Lng},
		At:         f.RecordedAt,
	}, nil
}

// DecodeFix reads a JSON object or a msgpack map.
func DecodeFix(payload []byte) (Fix, error) {
	var f Fix
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return f, fmt.Errorf("%w: empty payload", ErrInvalidFix)
	}

	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &f)
	} else {
		err = msgpack.Unmarshal(payload, &f)
	}
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	return f, nil
}

// dispatch routes a decoded report to the subscriber callbacks.
func dispatch(f Fix, onSample func(recorder.Sample), onError func(error)) error {
	s, err := f.Sample()
	var fixErr *FixError
	switch {
	case errors.As(err, &fixErr):
		onError(fixErr)
		return nil
	case err != nil:
		return err
	}
	onSample(s)
	return nil
}
