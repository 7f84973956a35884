package recording

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"backend-stridetrack/internal/activity"
	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/stream"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

var t0 = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

// idleClock schedules timers that never fire.
type idleClock struct{}

func (idleClock) Schedule(time.Duration, func(time.Time)) (recorder.Timer, error) {
	return idleTimer{}, nil
}

type idleTimer struct{}

func (idleTimer) Cancel() {}

type fakeSaver struct {
	mu    sync.Mutex
	reqs  []activity.CreateRequest
	users []string
	err   error
}

func (s *fakeSaver) Create(_ context.Context, userID string, req activity.CreateRequest) (activity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return activity.Activity{}, s.err
	}
	s.reqs = append(s.reqs, req)
	s.users = append(s.users, userID)
	return activity.Activity{ID: "activity-1", UserID: userID, Distance: *req.Distance}, nil
}

type fakeBroadcaster struct {
	// release, when set, holds every Broadcast until it is closed.
	release chan struct{}

	mu   sync.Mutex
	sent map[string][][]byte
}

func (b *fakeBroadcaster) Broadcast(key string, payload []byte) {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent == nil {
		b.sent = map[string][][]byte{}
	}
	b.sent[key] = append(b.sent[key], payload)
}

func (b *fakeBroadcaster) statuses(key string) []recorder.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recorder.Status
	for _, p := range b.sent[key] {
		var st recorder.State
		if err := json.Unmarshal(p, &st); err != nil {
			continue
		}
		out = append(out, st.Status)
	}
	return out
}

// waitForLast waits until the most recent broadcast for key carries want.
func (b *fakeBroadcaster) waitForLast(t *testing.T, key string, want recorder.Status) []recorder.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := b.statuses(key)
		if len(got) > 0 && got[len(got)-1] == want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected last broadcast %s, got %v", want, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestManager(t *testing.T, saver Saver, hub Broadcaster, kind string) *Manager {
	t.Helper()
	log, _ := test.NewNullLogger()
	mgr := NewManager(saver, hub, Options{
		SourceKind: kind,
		Clock:      idleClock{},
		Recorder:   recorder.Options{Now: func() time.Time { return t0 }},
		Logger:     log,
	})
	t.Cleanup(mgr.Close)
	return mgr
}

func fix(lat, lng float64) location.Fix {
	return location.Fix{Lat: &lat, Lng: &lng, RecordedAt: t0}
}

func TestManagerStateWithoutRecording(t *testing.T) {
	mgr := newTestManager(t, &fakeSaver{}, nil, config.SourcePush)

	st := mgr.State("user-1")
	if st.Status != recorder.StatusIdle || st.Route == nil || len(st.Route) != 0 {
		t.Fatalf("expected empty idle state, got %+v", st)
	}
	mgr.mu.Lock()
	n := len(mgr.sessions)
	mgr.mu.Unlock()
	if n != 0 {
		t.Fatalf("reading state must not create a recorder")
	}
}

func TestManagerRecordAndSave(t *testing.T) {
	saver := &fakeSaver{}
	hub := &fakeBroadcaster{}
	mgr := newTestManager(t, saver, hub, config.SourcePush)

	st, err := mgr.Start("user-1")
	if err != nil || st.Status != recorder.StatusRunning {
		t.Fatalf("start: %v %+v", err, st)
	}
	if err := mgr.PushFix("user-1", fix(0, 0)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := mgr.PushFix("user-1", fix(0.001, 0)); err != nil {
		t.Fatalf("push: %v", err)
	}

	st, err = mgr.Finish("user-1")
	if err != nil || st.Status != recorder.StatusFinished || len(st.Route) != 2 {
		t.Fatalf("finish: %v %+v", err, st)
	}

	a, err := mgr.Save(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if a.ID != "activity-1" || math.Abs(a.Distance-111.19) > 0.01 {
		t.Fatalf("unexpected activity: %+v", a)
	}
	if len(saver.reqs) != 1 || len(saver.reqs[0].Path) != 2 || saver.users[0] != "user-1" {
		t.Fatalf("unexpected save request: %+v", saver.reqs)
	}
	if got := mgr.State("user-1").Status; got != recorder.StatusIdle {
		t.Fatalf("expected idle after save, got %s", got)
	}

	// intermediate states may be coalesced, but never reordered
	got := hub.waitForLast(t, "user-1", recorder.StatusIdle)
	for i := 1; i < len(got)-1; i++ {
		if got[i] < got[i-1] {
			t.Fatalf("broadcasts out of order: %v", got)
		}
	}
}

func TestManagerSaveFailureKeepsRecording(t *testing.T) {
	saver := &fakeSaver{err: errSave}
	mgr := newTestManager(t, saver, nil, config.SourcePush)

	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := mgr.Finish("user-1"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := mgr.Save(context.Background(), "user-1"); !errors.Is(err, errSave) {
		t.Fatalf("expected save error, got %v", err)
	}
	if got := mgr.State("user-1").Status; got != recorder.StatusFinished {
		t.Fatalf("expected finished after failed save, got %s", got)
	}

	st, err := mgr.Discard("user-1")
	if err != nil || st.Status != recorder.StatusIdle {
		t.Fatalf("discard: %v %+v", err, st)
	}
}

func TestManagerSaveRequiresFinished(t *testing.T) {
	saver := &fakeSaver{}
	mgr := newTestManager(t, saver, nil, config.SourcePush)

	if _, err := mgr.Save(context.Background(), "user-1"); !errors.Is(err, recorder.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from idle, got %v", err)
	}
	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := mgr.Save(context.Background(), "user-1"); !errors.Is(err, recorder.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition while running, got %v", err)
	}
	if len(saver.reqs) != 0 {
		t.Fatalf("nothing should be saved")
	}
}

func TestManagerUsersAreIndependent(t *testing.T) {
	mgr := newTestManager(t, &fakeSaver{}, nil, config.SourcePush)

	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := mgr.Start("user-2"); err != nil {
		t.Fatalf("start second user: %v", err)
	}
	if _, err := mgr.Start("user-1"); !errors.Is(err, recorder.ErrInvalidTransition) {
		t.Fatalf("expected second start to be rejected, got %v", err)
	}
	if err := mgr.PushFix("user-3", fix(1, 1)); !errors.Is(err, location.ErrNoSubscriber) {
		t.Fatalf("expected no subscriber for idle user, got %v", err)
	}
}

func TestManagerPushRejectsInvalidFix(t *testing.T) {
	mgr := newTestManager(t, &fakeSaver{}, nil, config.SourcePush)
	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.PushFix("user-1", location.Fix{}); !errors.Is(err, location.ErrInvalidFix) {
		t.Fatalf("expected invalid fix, got %v", err)
	}
	if err := mgr.PushFix("user-1", location.Fix{Error: "gps lost"}); err != nil {
		t.Fatalf("reported failures are accepted: %v", err)
	}
	if got := len(mgr.State("user-1").Route); got != 0 {
		t.Fatalf("expected no points, got %d", got)
	}
}

func TestManagerMQTTMode(t *testing.T) {
	mgr := newTestManager(t, &fakeSaver{}, nil, config.SourceMQTT)

	if err := mgr.PushFix("user-1", fix(0, 0)); !errors.Is(err, ErrNotPushMode) {
		t.Fatalf("expected push to be rejected, got %v", err)
	}
	if _, err := mgr.Start("user-1"); !errors.Is(err, recorder.ErrLocationUnavailable) {
		t.Fatalf("expected location unavailable without broker, got %v", err)
	}
	if got := mgr.State("user-1").Status; got != recorder.StatusIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestManagerClose(t *testing.T) {
	log, _ := test.NewNullLogger()
	mgr := NewManager(&fakeSaver{}, nil, Options{Clock: idleClock{}, Logger: log})

	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	mgr.Close()
	if _, err := mgr.Start("user-1"); !errors.Is(err, recorder.ErrClosed) {
		t.Fatalf("expected closed manager, got %v", err)
	}
	mgr.Close()
}

func TestManagerSlowHubDoesNotDelayRecording(t *testing.T) {
	hub := &fakeBroadcaster{release: make(chan struct{})}
	log, _ := test.NewNullLogger()

	var (
		mu  sync.Mutex
		now = t0
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	mgr := NewManager(&fakeSaver{}, hub, Options{
		SourceKind: config.SourcePush,
		Clock:      idleClock{},
		Recorder:   recorder.Options{Now: clock},
		Logger:     log,
	})
	released := false
	release := func() {
		if !released {
			released = true
			close(hub.release)
		}
	}
	t.Cleanup(mgr.Close)
	t.Cleanup(release)

	started := time.Now()
	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, f := range []location.Fix{fix(0, 0), fix(0.001, 0)} {
		if err := mgr.PushFix("user-1", f); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	mu.Lock()
	now = t0.Add(60 * time.Second)
	mu.Unlock()

	st, err := mgr.Finish("user-1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("recording waited on the hub for %v", elapsed)
	}
	if st.Status != recorder.StatusFinished || st.DurationSeconds != 60 || len(st.Route) != 2 {
		t.Fatalf("unexpected finished state: %+v", st)
	}

	release()
	hub.waitForLast(t, "user-1", recorder.StatusFinished)
}

func TestManagerWithStalledRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         stalledRedis(t),
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	log, _ := test.NewNullLogger()
	hub := stream.NewHub(rdb, log)
	t.Cleanup(hub.Close)

	mgr := NewManager(&fakeSaver{}, hub, Options{
		SourceKind: config.SourcePush,
		Clock:      idleClock{},
		Recorder:   recorder.Options{Now: func() time.Time { return t0 }},
		Logger:     log,
	})
	t.Cleanup(mgr.Close)

	started := time.Now()
	if _, err := mgr.Start("user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.PushFix("user-1", fix(0, 0)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := mgr.PushFix("user-1", fix(0.001, 0)); err != nil {
		t.Fatalf("push: %v", err)
	}
	st, err := mgr.Finish("user-1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 300*time.Millisecond {
		t.Fatalf("start, two fixes and finish took %v behind a silent redis", elapsed)
	}
	if len(st.Route) != 2 || math.Abs(st.DistanceMeters-111.19) > 0.01 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// stalledRedis accepts connections and never answers.
func stalledRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

var errSave = errors.New("save failed")
