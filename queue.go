package blehost

import (
	"sync"
	"time"
)

// Queue serializes engine work onto a single goroutine. Controller events,
// application calls and timer expirations are posted here, so engine state
// never needs internal locking.
type Queue struct {
	mu      sync.Mutex
	wake    *sync.Cond
	pending []func()
	closed  bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.wake = sync.NewCond(&q.mu)
	return q
}

// Post schedules f to run on the queue. Posting to a closed queue drops f.
func (q *Queue) Post(f func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, f)
	q.wake.Signal()
}

// Run drains the queue until Close. Call from exactly one goroutine.
func (q *Queue) Run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.wake.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		f := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		f()
	}
}

// Flush runs all currently pending work on the calling goroutine. Work
// posted while flushing is run too. Intended for tests and teardown,
// never concurrently with Run.
func (q *Queue) Flush() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		f := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		f()
	}
}

// Close stops Run once pending work drains. Further posts are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wake.Broadcast()
}

// Timer is a cancelable queue timer.
type Timer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// Stop cancels the timer. A callback already posted may still run.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.t != nil {
		t.t.Stop()
	}
}

// AfterFunc posts f onto the queue after d.
func (q *Queue) AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{}
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			q.Post(f)
		}
	})
	return t
}

// Every posts f onto the queue every d until stopped.
func (q *Queue) Every(d time.Duration, f func()) *Timer {
	t := &Timer{}
	var arm func()
	arm = func() {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		t.t = time.AfterFunc(d, func() {
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if stopped {
				return
			}
			q.Post(f)
			arm()
		})
		t.mu.Unlock()
	}
	arm()
	return t
}
