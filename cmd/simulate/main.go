// Command simulate replays a route through the recording engine and prints
// the finished snapshot as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"backend-stridetrack/internal/logging"
	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/shared/geo"
)

func main() {
	var (
		fitPath  = flag.String("fit", "", "Replay the records of a FIT activity file")
		from     = flag.String("from", "-6.2000,106.8000", "Synthetic route start as lat,lng")
		to       = flag.String("to", "-6.2000,106.8100", "Synthetic route end as lat,lng")
		points   = flag.Int("points", 11, "Number of synthetic route points")
		step     = flag.Duration("step", 6*time.Second, "Time between synthetic fixes")
		interval = flag.Duration("interval", 200*time.Millisecond, "Wall-clock delay between replayed fixes")
		tick     = flag.Duration("tick", recorder.DefaultTickInterval, "Recorder tick interval")
		calories = flag.Float64("calories-per-km", recorder.DefaultCaloriesPerKm, "Calorie estimate per kilometre")
		level    = flag.String("log-level", "info", "Log level")
		timeout  = flag.Duration("timeout", 10*time.Minute, "Give up after this long")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [--fit activity.fit | --from lat,lng --to lat,lng --points 11] [--interval 200ms]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logging.New(*level)
	log.SetOutput(os.Stderr)

	var (
		samples []recorder.Sample
		err     error
	)
	if *fitPath != "" {
		samples, err = loadFITFile(*fitPath)
	} else {
		samples, err = syntheticFromFlags(*from, *to, *points, *step)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulate failed: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	snap, err := simulate(ctx, samples, *interval, recorder.Options{
		TickInterval:  *tick,
		CaloriesPerKm: *calories,
		Logger:        log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulate failed: %v\n", err)
		os.Exit(1)
	}

	log.WithField("distance", recorder.FormatDistance(snap.DistanceMeters)).
		WithField("duration", recorder.FormatDuration(snap.DurationSeconds)).
		Info("simulation complete")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		fmt.Fprintf(os.Stderr, "encode snapshot: %v\n", err)
		os.Exit(1)
	}
}

func syntheticFromFlags(from, to string, n int, step time.Duration) ([]recorder.Sample, error) {
	start, err := parseCoordinate(from)
	if err != nil {
		return nil, err
	}
	end, err := parseCoordinate(to)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 points, got %d", n)
	}
	return syntheticRoute(start, end, n, time.Now().UTC(), step), nil
}

func syntheticRoute(start, end geo.Coordinate, n int, at time.Time, step time.Duration) []recorder.Sample {
	path := geo.Interpolate(start, end, n)
	samples := make([]recorder.Sample, len(path))
	for i, c := range path {
		samples[i] = recorder.Sample{Coordinate: c, At: at.Add(time.Duration(i) * step)}
	}
	return samples
}
