package recorder

import (
	"errors"
	"sync"
	"time"
)

// LocationSource produces location fixes while subscribed.
//
// onSample and onError may be called from any goroutine. A per-fix failure is
// reported through onError and does not end the subscription; an error matching
// ErrSourceClosed means no further samples will follow.
type LocationSource interface {
	Subscribe(onSample func(Sample), onError func(error)) (Subscription, error)
}

// Subscription is an active LocationSource subscription. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Clock fires onTick every period until the returned Timer is cancelled.
type Clock interface {
	Schedule(period time.Duration, onTick func(time.Time)) (Timer, error)
}

// Timer is a scheduled Clock. Cancel is idempotent.
type Timer interface {
	Cancel()
}

var errInvalidPeriod = errors.New("tick period must be positive")

// TickerClock is a Clock backed by time.Ticker.
type TickerClock struct{}

func (TickerClock) Schedule(period time.Duration, onTick func(time.Time)) (Timer, error) {
	if period <= 0 {
		return nil, errInvalidPeriod
	}

	t := &tickerTimer{
		ticker: time.NewTicker(period),
		stop:   make(chan struct{}),
	}
	go t.loop(onTick)
	return t, nil
}

type tickerTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) loop(onTick func(time.Time)) {
	for {
		select {
		case <-t.stop:
			return
		case now := <-t.ticker.C:
			select {
			case <-t.stop:
				return
			default:
			}
			onTick(now)
		}
	}
}

func (t *tickerTimer) Cancel() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}
