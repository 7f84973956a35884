package location

import (
	"errors"
	"testing"
	"time"

	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/shared/geo"
)

type fakeTimer struct{}

func (fakeTimer) Cancel() {}

type fakeClock struct{}

func (fakeClock) Schedule(time.Duration, func(time.Time)) (recorder.Timer, error) {
	return fakeTimer{}, nil
}

func route(n int) []recorder.Sample {
	points := geo.Interpolate(geo.Coordinate{Lat: 0, Lng: 0}, geo.Coordinate{Lat: 0, Lng: 0.01}, n)
	samples := make([]recorder.Sample, len(points))
	for i, p := range points {
		samples[i] = recorder.Sample{Coordinate: p}
	}
	return samples
}

func TestReplaySourcePlaysThenCloses(t *testing.T) {
	src := NewReplaySource(route(5), time.Millisecond)

	got := make(chan recorder.Sample, 10)
	closed := make(chan error, 1)
	sub, err := src.Subscribe(func(s recorder.Sample) { got <- s }, func(err error) { closed <- err })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case err := <-closed:
		if !errors.Is(err, recorder.ErrSourceClosed) {
			t.Fatalf("expected ErrSourceClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("replay did not finish")
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(got))
	}

	if _, err := src.Subscribe(func(recorder.Sample) {}, func(error) {}); !errors.Is(err, recorder.ErrLocationUnavailable) {
		t.Fatalf("expected single subscriber, got %v", err)
	}
}

func TestReplaySourceStopsOnUnsubscribe(t *testing.T) {
	src := NewReplaySource(route(1000), 10*time.Millisecond)
	got := make(chan recorder.Sample, 1000)
	sub, err := src.Subscribe(func(s recorder.Sample) { got <- s }, func(error) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub.Unsubscribe()
	time.Sleep(50 * time.Millisecond)
	if len(got) > 1 {
		t.Fatalf("replay kept running after unsubscribe: %d samples", len(got))
	}

	again, err := src.Subscribe(func(recorder.Sample) {}, func(error) {})
	if err != nil {
		t.Fatalf("resubscribe after unsubscribe: %v", err)
	}
	again.Unsubscribe()
}

func TestReplayDrivesRecorderToFinished(t *testing.T) {
	src := NewReplaySource(route(11), 0)
	done := make(chan recorder.State, 4)
	rec := recorder.New(src, fakeClock{}, recorder.Options{OnChange: func(st recorder.State) {
		if st.Status == recorder.StatusFinished {
			done <- st
		}
	}})
	defer rec.Close()

	if _, err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case st := <-done:
		if len(st.Route) != 11 {
			t.Fatalf("expected 11 route points, got %d", len(st.Route))
		}
		if st.DistanceMeters < 1111 || st.DistanceMeters > 1112 {
			t.Fatalf("unexpected distance %v", st.DistanceMeters)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recorder never finished")
	}
}
