package location

import (
	"fmt"
	"sync"
	"time"

	"backend-stridetrack/internal/recorder"
)

// ReplaySource plays back a fixed route, one sample per interval, and then
// reports recorder.ErrSourceClosed.
type ReplaySource struct {
	samples  []recorder.Sample
	interval time.Duration

	mu     sync.Mutex
	active bool
}

func NewReplaySource(samples []recorder.Sample, interval time.Duration) *ReplaySource {
	return &ReplaySource{samples: samples, interval: interval}
}

func (r *ReplaySource) Subscribe(onSample func(recorder.Sample), onError func(error)) (recorder.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, fmt.Errorf("%w: replay already running", recorder.ErrLocationUnavailable)
	}
	r.active = true

	sub := &replaySubscription{source: r, stop: make(chan struct{})}
	go sub.play(r.samples, r.interval, onSample, onError)
	return sub, nil
}

type replaySubscription struct {
	source *ReplaySource
	stop   chan struct{}
	once   sync.Once
}

func (s *replaySubscription) play(samples []recorder.Sample, interval time.Duration, onSample func(recorder.Sample), onError func(error)) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for _, sample := range samples {
		if tick != nil {
			select {
			case <-s.stop:
				return
			case <-tick:
			}
		}
		select {
		case <-s.stop:
			return
		default:
		}
		onSample(sample)
	}

	select {
	case <-s.stop:
	default:
		onError(recorder.ErrSourceClosed)
	}
}

func (s *replaySubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.source.mu.Lock()
		s.source.active = false
		s.source.mu.Unlock()
	})
}
