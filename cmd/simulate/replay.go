package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/shared/geo"

	"github.com/sirupsen/logrus"
	"github.com/tormoder/fit"
)

func parseCoordinate(s string) (geo.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Coordinate{}, fmt.Errorf("coordinate %q: expected lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return geo.Coordinate{}, fmt.Errorf("coordinate %q out of range", s)
	}
	return geo.Coordinate{Lat: lat, Lng: lng}, nil
}

func loadFITFile(path string) ([]recorder.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()
	return loadFIT(f)
}

// loadFIT returns the positioned records of a FIT activity in file order.
func loadFIT(r io.Reader) ([]recorder.Sample, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode FIT file: %w", err)
	}
	act, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("activity FIT expected: %w", err)
	}

	samples := make([]recorder.Sample, 0, len(act.Records))
	for _, rec := range act.Records {
		if rec.PositionLat.Invalid() || rec.PositionLong.Invalid() {
			continue
		}
		samples = append(samples, recorder.Sample{
			Coordinate: geo.Coordinate{Lat: rec.PositionLat.Degrees(), Lng: rec.PositionLong.Degrees()},
			At:         rec.Timestamp,
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("FIT file has no positioned records")
	}
	return samples, nil
}

// simulate records the samples from start until the replay runs out.
func simulate(ctx context.Context, samples []recorder.Sample, interval time.Duration, opts recorder.Options) (recorder.Snapshot, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	finished := make(chan struct{})
	var once sync.Once
	opts.OnChange = func(st recorder.State) {
		if st.Status == recorder.StatusFinished {
			once.Do(func() { close(finished) })
			return
		}
		log.WithFields(logrus.Fields{
			"points":   len(st.Route),
			"distance": recorder.FormatDistance(st.DistanceMeters),
			"duration": recorder.FormatDuration(st.DurationSeconds),
			"pace_kmh": fmt.Sprintf("%.2f", st.PaceKmPerHour),
			"calories": st.CaloriesEstimate,
		}).Debug("recording progress")
	}

	rec := recorder.New(location.NewReplaySource(samples, interval), recorder.TickerClock{}, opts)
	defer rec.Close()

	if _, err := rec.Start(); err != nil {
		return recorder.Snapshot{}, err
	}

	select {
	case <-finished:
	case <-ctx.Done():
		if _, err := rec.Finish(); err != nil {
			return recorder.Snapshot{}, err
		}
	}
	return rec.Snapshot()
}
