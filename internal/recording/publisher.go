package recording

import (
	"sync"

	"backend-stridetrack/internal/recorder"
)

// publisher hands recorder states to a sender goroutine. Only the latest
// pending state is kept, so a slow hub coalesces updates instead of holding
// up the recorder that produced them.
type publisher struct {
	send func(recorder.State)

	mu      sync.Mutex
	pending *recorder.State

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newPublisher(send func(recorder.State)) *publisher {
	p := &publisher{
		send:    send,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// offer never blocks.
func (p *publisher) offer(st recorder.State) {
	p.mu.Lock()
	p.pending = &st
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		p.mu.Lock()
		st := p.pending
		p.pending = nil
		p.mu.Unlock()

		if st != nil {
			p.send(*st)
		}
	}
}

// close waits for an in-flight send; pending states are dropped.
func (p *publisher) close() {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
}
