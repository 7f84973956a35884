package location

import (
	"fmt"
	"sync"

	"backend-stridetrack/internal/recorder"
)

// PushSource receives fixes posted by the device through the HTTP API.
type PushSource struct {
	mu       sync.Mutex
	seq      uint64
	onSample func(recorder.Sample)
	onError  func(error)
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

func (p *PushSource) Subscribe(onSample func(recorder.Sample), onError func(error)) (recorder.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onSample != nil {
		return nil, fmt.Errorf("%w: push source already subscribed", recorder.ErrLocationUnavailable)
	}
	p.seq++
	p.onSample = onSample
	p.onError = onError
	return &pushSubscription{source: p, id: p.seq}, nil
}

// Push hands a sample to the active subscriber.
func (p *PushSource) Push(s recorder.Sample) error {
	onSample, _ := p.callbacks()
	if onSample == nil {
		return ErrNoSubscriber
	}
	onSample(s)
	return nil
}

// Report hands a per-fix failure to the active subscriber.
func (p *PushSource) Report(err error) error {
	_, onError := p.callbacks()
	if onError == nil {
		return ErrNoSubscriber
	}
	onError(err)
	return nil
}

// Deliver pushes a device report, routing reported failures to Report.
func (p *PushSource) Deliver(f Fix) error {
	onSample, onError := p.callbacks()
	if onSample == nil {
		return ErrNoSubscriber
	}
	return dispatch(f, onSample, onError)
}

// Active reports whether a subscription is held.
func (p *PushSource) Active() bool {
	onSample, _ := p.callbacks()
	return onSample != nil
}

// callbacks are invoked outside the lock; the subscriber may unsubscribe
// from inside them.
func (p *PushSource) callbacks() (func(recorder.Sample), func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onSample, p.onError
}

type pushSubscription struct {
	source *PushSource
	id     uint64
}

func (s *pushSubscription) Unsubscribe() {
	p := s.source
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq == s.id {
		p.onSample = nil
		p.onError = nil
	}
}
