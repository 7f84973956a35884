// Package recording exposes one recorder per user over HTTP and carries a
// finished recording through the save or discard decision.
package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"backend-stridetrack/internal/activity"
	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recorder"

	"github.com/sirupsen/logrus"
)

var ErrNotPushMode = errors.New("location fixes are not accepted over http in this mode")

type Saver interface {
	Create(ctx context.Context, userID string, req activity.CreateRequest) (activity.Activity, error)
}

type Broadcaster interface {
	Broadcast(key string, payload []byte)
}

type Options struct {
	// SourceKind is config.SourcePush or config.SourceMQTT.
	SourceKind  string
	MQTT        location.MQTTClient
	TopicFormat string

	Clock    recorder.Clock
	Recorder recorder.Options
	Logger   logrus.FieldLogger
}

type Manager struct {
	saver Saver
	hub   Broadcaster
	opts  Options
	log   logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	rec  *recorder.Recorder
	push *location.PushSource
	out  *publisher

	// serialises save and discard so a snapshot is persisted at most once
	gate sync.Mutex
}

func NewManager(saver Saver, hub Broadcaster, opts Options) *Manager {
	if opts.SourceKind == "" {
		opts.SourceKind = config.SourcePush
	}
	if opts.TopicFormat == "" {
		opts.TopicFormat = "devices/%s/location"
	}
	if opts.Clock == nil {
		opts.Clock = recorder.TickerClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Manager{
		saver:    saver,
		hub:      hub,
		opts:     opts,
		log:      opts.Logger,
		sessions: map[string]*session{},
	}
}

func idleState() recorder.State {
	return recorder.State{Status: recorder.StatusIdle, Route: []recorder.RoutePoint{}}
}

// State does not create a recorder for users that never started one.
func (m *Manager) State(userID string) recorder.State {
	m.mu.Lock()
	s := m.sessions[userID]
	m.mu.Unlock()
	if s == nil {
		return idleState()
	}
	return s.rec.State()
}

func (m *Manager) Start(userID string) (recorder.State, error) {
	s, err := m.session(userID)
	if err != nil {
		return idleState(), err
	}
	return s.rec.Start()
}

func (m *Manager) Finish(userID string) (recorder.State, error) {
	s, err := m.session(userID)
	if err != nil {
		return idleState(), err
	}
	return s.rec.Finish()
}

// PushFix forwards a device report to the user's push source.
func (m *Manager) PushFix(userID string, fix location.Fix) error {
	if m.opts.SourceKind != config.SourcePush {
		return ErrNotPushMode
	}
	s, err := m.session(userID)
	if err != nil {
		return err
	}
	return s.push.Deliver(fix)
}

// Save persists the finished recording and resets the recorder. A failed
// save leaves the recording finished so it can be retried or discarded.
func (m *Manager) Save(ctx context.Context, userID string) (activity.Activity, error) {
	s, err := m.session(userID)
	if err != nil {
		return activity.Activity{}, err
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	snap, err := s.rec.Snapshot()
	if err != nil {
		return activity.Activity{}, err
	}
	a, err := m.saver.Create(ctx, userID, activity.FromSnapshot(snap))
	if err != nil {
		m.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Error("saving recording failed")
		return activity.Activity{}, fmt.Errorf("save recording: %w", err)
	}
	if _, err := s.rec.Reset(); err != nil {
		return a, err
	}

	m.log.WithFields(logrus.Fields{"user_id": userID, "activity_id": a.ID}).Info("recording saved")
	return a, nil
}

func (m *Manager) Discard(userID string) (recorder.State, error) {
	s, err := m.session(userID)
	if err != nil {
		return idleState(), err
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.rec.Reset()
}

// Close stops every recorder. Later calls fail with recorder.ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*session{}
	m.closed = true
	m.mu.Unlock()

	for _, s := range sessions {
		s.rec.Close()
		if s.out != nil {
			s.out.close()
		}
	}
}

func (m *Manager) session(userID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, recorder.ErrClosed
	}
	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	s := &session{}
	var source recorder.LocationSource
	switch m.opts.SourceKind {
	case config.SourceMQTT:
		topic := fmt.Sprintf(m.opts.TopicFormat, userID)
		source = location.NewMQTTSource(m.opts.MQTT, topic, m.log)
	default:
		s.push = location.NewPushSource()
		source = s.push
	}

	log := m.log.WithField("user_id", userID)
	opts := m.opts.Recorder
	opts.Logger = log
	if m.hub != nil {
		s.out = newPublisher(func(st recorder.State) { m.broadcast(userID, st, log) })
		opts.OnChange = s.out.offer
	}
	s.rec = recorder.New(source, m.opts.Clock, opts)

	m.sessions[userID] = s
	return s, nil
}

// broadcast runs on the session's publisher goroutine, never on the recorder's.
func (m *Manager) broadcast(userID string, st recorder.State, log logrus.FieldLogger) {
	payload, err := json.Marshal(st)
	if err != nil {
		log.WithField("error", err).Error("encode recording state")
		return
	}
	m.hub.Broadcast(userID, payload)
}
