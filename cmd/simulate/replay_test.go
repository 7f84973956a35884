package main

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"backend-stridetrack/internal/activity"
	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/shared/geo"

	"github.com/sirupsen/logrus/hooks/test"
)

var t0 = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

func TestParseCoordinate(t *testing.T) {
	c, err := parseCoordinate(" -6.2, 106.8 ")
	if err != nil || c.Lat != -6.2 || c.Lng != 106.8 {
		t.Fatalf("unexpected coordinate: %+v %v", c, err)
	}
	for _, bad := range []string{"", "1", "a,b", "1,x", "91,0", "0,181"} {
		if _, err := parseCoordinate(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSyntheticRoute(t *testing.T) {
	samples := syntheticRoute(geo.Coordinate{}, geo.Coordinate{Lat: 0.01}, 11, t0, 6*time.Second)
	if len(samples) != 11 {
		t.Fatalf("expected 11 samples, got %d", len(samples))
	}
	if !samples[10].At.Equal(t0.Add(time.Minute)) || samples[10].Lat != 0.01 {
		t.Fatalf("unexpected last sample: %+v", samples[10])
	}

	if _, err := syntheticFromFlags("0,0", "0,1", 1, time.Second); err == nil {
		t.Fatalf("expected error for a single point")
	}
	if _, err := syntheticFromFlags("bad", "0,1", 5, time.Second); err == nil {
		t.Fatalf("expected error for bad start")
	}
}

func TestLoadFIT(t *testing.T) {
	path := geo.Interpolate(geo.Coordinate{Lat: -6.2, Lng: 106.8}, geo.Coordinate{Lat: -6.2, Lng: 106.801}, 4)
	data, err := activity.EncodeFIT(activity.Activity{
		ID:        "a-1",
		Distance:  geo.PathDistance(path),
		Duration:  90,
		Path:      path,
		StartTime: t0,
		EndTime:   t0.Add(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	samples, err := loadFIT(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	if math.Abs(samples[3].Lng-106.801) > 1e-6 || !samples[3].At.Equal(t0.Add(90*time.Second)) {
		t.Fatalf("unexpected last sample: %+v", samples[3])
	}

	if _, err := loadFIT(bytes.NewReader([]byte("not a fit file"))); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := loadFITFile("does-not-exist.fit"); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestSimulateReplaysUntilSourceEnds(t *testing.T) {
	log, _ := test.NewNullLogger()
	samples := syntheticRoute(geo.Coordinate{}, geo.Coordinate{Lat: 0.01}, 11, t0, 6*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := simulate(ctx, samples, 0, recorder.Options{Logger: log})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(snap.Route) != 11 {
		t.Fatalf("expected 11 points, got %d", len(snap.Route))
	}
	if math.Abs(snap.DistanceMeters-1111.95) > 0.1 {
		t.Fatalf("unexpected distance: %f", snap.DistanceMeters)
	}
	if snap.CaloriesEstimate != int(snap.DistanceMeters/1000*recorder.DefaultCaloriesPerKm) {
		t.Fatalf("unexpected calories: %d", snap.CaloriesEstimate)
	}
}

func TestSimulateStopsOnDeadline(t *testing.T) {
	log, _ := test.NewNullLogger()
	samples := syntheticRoute(geo.Coordinate{}, geo.Coordinate{Lat: 0.01}, 11, t0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := simulate(ctx, samples, time.Hour, recorder.Options{Logger: log})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(snap.Route) > 1 {
		t.Fatalf("expected at most the first fix before the deadline, got %d", len(snap.Route))
	}
}
