// Package recorder implements the activity recording engine: a per-user state
// machine fed by a LocationSource and a Clock that accumulates a route, the
// travelled distance and the derived pace and calorie estimate.
//
// All session state is owned by a single goroutine. Lifecycle calls, location
// samples and clock ticks are queued on one mailbox and applied in arrival order.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-stridetrack/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTickInterval is how often the duration advances while running.
	DefaultTickInterval = time.Second
	// DefaultCaloriesPerKm is the energy estimate per kilometre covered.
	DefaultCaloriesPerKm = 62.0

	mailboxSize = 128
)

// Options configures a Recorder. Zero values fall back to the defaults.
type Options struct {
	TickInterval  time.Duration
	CaloriesPerKm float64
	Now           func() time.Time
	NewSessionID  func() string
	Logger        logrus.FieldLogger

	// OnChange runs on the recorder goroutine after every applied change.
	// It must not call back into the Recorder.
	OnChange func(State)
}

// Recorder is one user's recording engine.
type Recorder struct {
	source LocationSource
	clock  Clock
	opts   Options
	log    logrus.FieldLogger

	mailbox   chan event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// fields below are only touched by the run goroutine
	gen       uint64
	sessionID string
	status    Status
	route     []RoutePoint
	startTime time.Time
	endTime   time.Time
	distance  float64
	duration  int64
	pace      float64
	calories  int
	last      *geo.Coordinate
	sub       Subscription
	timer     Timer
}

// New starts the recorder goroutine. Call Close to stop it.
func New(source LocationSource, clock Clock, opts Options) *Recorder {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.CaloriesPerKm <= 0 {
		opts.CaloriesPerKm = DefaultCaloriesPerKm
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	r := &Recorder{
		source:  source,
		clock:   clock,
		opts:    opts,
		log:     opts.Logger,
		mailbox: make(chan event, mailboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Start begins a new session. It fails with ErrLocationUnavailable when the
// location stream cannot be acquired and with a TransitionError unless Idle.
func (r *Recorder) Start() (State, error) {
	return r.call("start", (*Recorder).start)
}

// Finish stops both event sources and freezes the session for confirmation.
// Calling it on a finished session is a no-op.
func (r *Recorder) Finish() (State, error) {
	return r.call("finish", (*Recorder).finish)
}

// Reset releases the event sources and discards all session data.
func (r *Recorder) Reset() (State, error) {
	return r.call("reset", func(r *Recorder) (bool, error) {
		changed := r.status != StatusIdle
		r.clear()
		return changed, nil
	})
}

// State returns a copy of the current session state.
func (r *Recorder) State() State {
	st, err := r.call("state", func(*Recorder) (bool, error) { return false, nil })
	if err != nil {
		return idleState()
	}
	return st
}

// Snapshot returns the finished session for persistence.
func (r *Recorder) Snapshot() (Snapshot, error) {
	var snap Snapshot
	_, err := r.call("snapshot", func(r *Recorder) (bool, error) {
		if r.status != StatusFinished {
			return false, &TransitionError{Op: "snapshot", From: r.status}
		}
		snap = r.snapshot()
		return false, nil
	})
	return snap, err
}

// Close releases any held subscription and timer and stops the recorder
// goroutine. It must not be called from OnChange.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

type event interface {
	apply(r *Recorder)
}

type reply struct {
	state State
	err   error
}

type command struct {
	op    string
	fn    func(*Recorder) (bool, error)
	reply chan reply
}

func (c command) apply(r *Recorder) {
	var (
		changed bool
		err     error
	)
	defer func() {
		if p := recover(); p != nil {
			r.log.WithFields(logrus.Fields{"op": c.op, "panic": p}).Error("recorder command failed, aborting session")
			r.abort()
			err = fmt.Errorf("%s: %v", c.op, p)
		}
		c.reply <- reply{state: r.currentState(), err: err}
	}()

	changed, err = c.fn(r)
	if changed {
		r.notify()
	}
}

type sampleEvent struct {
	gen    uint64
	sample Sample
}

func (e sampleEvent) apply(r *Recorder) {
	if !r.accepts(e.gen) {
		return
	}
	r.addSample(e.sample)
	r.notify()
}

type sampleErrorEvent struct {
	gen uint64
	err error
}

func (e sampleErrorEvent) apply(r *Recorder) {
	if !r.accepts(e.gen) {
		return
	}
	if errors.Is(e.err, ErrSourceClosed) {
		r.log.WithField("session_id", r.sessionID).Info("location source closed, finishing session")
		if _, err := r.finish(); err == nil {
			r.notify()
		}
		return
	}
	r.log.WithFields(logrus.Fields{"session_id": r.sessionID, "error": e.err}).Warn("location fix failed")
}

type tickEvent struct {
	gen uint64
}

func (e tickEvent) apply(r *Recorder) {
	if !r.accepts(e.gen) {
		return
	}
	r.duration = r.elapsed(r.opts.Now())
	r.derive()
	r.notify()
}

func (r *Recorder) call(op string, fn func(*Recorder) (bool, error)) (State, error) {
	cmd := command{op: op, fn: fn, reply: make(chan reply, 1)}
	select {
	case r.mailbox <- cmd:
	case <-r.done:
		return idleState(), ErrClosed
	}

	select {
	case res := <-cmd.reply:
		return res.state, res.err
	case <-r.stopped:
		select {
		case res := <-cmd.reply:
			return res.state, res.err
		default:
			return idleState(), ErrClosed
		}
	}
}

func (r *Recorder) post(ev event) {
	select {
	case r.mailbox <- ev:
	case <-r.done:
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	defer close(r.stopped)
	defer r.release()

	for {
		select {
		case <-r.done:
			return
		case ev := <-r.mailbox:
			r.dispatch(ev)
		}
	}
}

func (r *Recorder) dispatch(ev event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithFields(logrus.Fields{"session_id": r.sessionID, "panic": p}).Error("recording event failed, aborting session")
			r.abort()
		}
	}()
	ev.apply(r)
}

func (r *Recorder) accepts(gen uint64) bool {
	return gen == r.gen && r.status == StatusRunning
}

func (r *Recorder) start() (bool, error) {
	if r.status != StatusIdle {
		return false, &TransitionError{Op: "start", From: r.status}
	}

	r.gen++
	gen := r.gen

	sub, err := r.source.Subscribe(
		func(s Sample) { r.post(sampleEvent{gen: gen, sample: s}) },
		func(err error) { r.post(sampleErrorEvent{gen: gen, err: err}) },
	)
	if err != nil {
		r.log.WithField("error", err).Warn("location source unavailable")
		if errors.Is(err, ErrLocationUnavailable) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	r.sub = sub

	timer, err := r.clock.Schedule(r.opts.TickInterval, func(time.Time) { r.post(tickEvent{gen: gen}) })
	if err != nil {
		r.release()
		return false, fmt.Errorf("schedule clock: %w", err)
	}
	r.timer = timer

	r.sessionID = r.opts.NewSessionID()
	r.startTime = r.opts.Now()
	r.endTime = time.Time{}
	r.route = []RoutePoint{}
	r.distance = 0
	r.duration = 0
	r.pace = 0
	r.calories = 0
	r.last = nil
	r.status = StatusRunning

	r.log.WithField("session_id", r.sessionID).Info("recording started")
	return true, nil
}

func (r *Recorder) finish() (bool, error) {
	switch r.status {
	case StatusFinished:
		return false, nil
	case StatusIdle:
		return false, &TransitionError{Op: "finish", From: r.status}
	}

	r.release()
	r.endTime = r.opts.Now()
	r.duration = r.elapsed(r.endTime)
	r.derive()
	r.status = StatusFinished

	r.log.WithFields(logrus.Fields{
		"session_id":       r.sessionID,
		"distance_meters":  r.distance,
		"duration_seconds": r.duration,
	}).Info("recording finished")
	return true, nil
}

func (r *Recorder) addSample(s Sample) {
	at := s.At
	if at.IsZero() {
		at = r.opts.Now()
	}
	r.route = append(r.route, RoutePoint{Lat: s.Lat, Lng: s.Lng, RecordedAt: at})

	if r.last != nil {
		r.distance += geo.Distance(*r.last, s.Coordinate)
	}
	coord := s.Coordinate
	r.last = &coord
	r.derive()
}

func (r *Recorder) derive() {
	km := r.distance / 1000
	r.pace = 0
	if r.duration > 0 {
		r.pace = km / (float64(r.duration) / 3600)
	}
	r.calories = int(km * r.opts.CaloriesPerKm)
}

func (r *Recorder) elapsed(now time.Time) int64 {
	d := now.Sub(r.startTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// release cancels the clock and drops the subscription if either is held.
func (r *Recorder) release() {
	if r.timer != nil {
		r.timer.Cancel()
		r.timer = nil
	}
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
}

func (r *Recorder) clear() {
	r.release()
	if r.sessionID != "" {
		r.log.WithField("session_id", r.sessionID).Info("recording reset")
	}
	r.sessionID = ""
	r.status = StatusIdle
	r.route = nil
	r.startTime = time.Time{}
	r.endTime = time.Time{}
	r.distance = 0
	r.duration = 0
	r.pace = 0
	r.calories = 0
	r.last = nil
}

func (r *Recorder) abort() {
	r.clear()

	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("panic", p).Warn("state observer failed after abort")
		}
	}()
	r.notify()
}

func (r *Recorder) notify() {
	if r.opts.OnChange != nil {
		r.opts.OnChange(r.currentState())
	}
}

func (r *Recorder) currentState() State {
	// The route is append-only within a session, so states share its prefix.
	// The cap keeps a reader's append out of the recorder's spare capacity.
	route := r.route[:len(r.route):len(r.route)]
	if route == nil {
		route = []RoutePoint{}
	}
	st := State{
		SessionID:            r.sessionID,
		Status:               r.status,
		Route:                route,
		DistanceMeters:       r.distance,
		DurationSeconds:      r.duration,
		PaceKmPerHour:        r.pace,
		CaloriesEstimate:     r.calories,
		AwaitingConfirmation: r.status == StatusFinished,
	}
	if !r.startTime.IsZero() {
		start := r.startTime
		st.StartTime = &start
	}
	if !r.endTime.IsZero() {
		end := r.endTime
		st.EndTime = &end
	}
	if r.last != nil {
		last := *r.last
		st.LastKnownLocation = &last
	}
	return st
}

func (r *Recorder) snapshot() Snapshot {
	route := make([]geo.Coordinate, len(r.route))
	for i, p := range r.route {
		route[i] = geo.Coordinate{Lat: p.Lat, Lng: p.Lng}
	}
	return Snapshot{
		DistanceMeters:   r.distance,
		DurationSeconds:  r.duration,
		CaloriesEstimate: r.calories,
		Route:            route,
		StartTime:        r.startTime.UTC(),
		EndTime:          r.endTime.UTC(),
	}
}

func idleState() State {
	return State{Status: StatusIdle, Route: []RoutePoint{}}
}
