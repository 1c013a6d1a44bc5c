package jobsync

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *logger.Logger {
	return logger.Wrap(zaptest.NewLogger(t))
}

// ==================== CLOCK ====================

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
	clock   *fakeClock
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock runs callbacks synchronously from Advance, in due order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f, clock: c}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing every timer that falls due,
// including ones scheduled by callbacks during the advance.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(end) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// FireAll runs every callback ever scheduled, stopped or not, as if each
// had already been queued when it was stopped.
func (c *fakeClock) FireAll() {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		t.f()
	}
}

// pendingAt reports whether a live timer is due exactly d from now.
func (c *fakeClock) pendingAt(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	due := c.now.Add(d)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at.Equal(due) {
			return true
		}
	}
	return false
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ==================== CONNECTION ====================

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte), closed: make(chan struct{})}
}

// ReadMessage treats a nil message as a barrier: receiving it proves the
// reader finished with the previous message.
func (c *fakeConn) ReadMessage() ([]byte, error) {
	for {
		select {
		case m := <-c.in:
			if m == nil {
				continue
			}
			return m, nil
		case <-c.closed:
			return nil, io.EOF
		}
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// deliver hands msg to the reader and returns once it has been processed
// or the connection was closed while processing it.
func (c *fakeConn) deliver(t *testing.T, msg string) {
	t.Helper()
	for _, m := range [][]byte{[]byte(msg), nil} {
		select {
		case c.in <- m:
		case <-c.closed:
			if m != nil {
				t.Fatalf("connection closed before delivering %s", msg)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatalf("reader did not take %q", msg)
		}
	}
}

// ==================== DIALER ====================

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	// fail makes the given attempt (1-based) fail; nil means every attempt succeeds.
	fail func(attempt int) bool
}

var errDialRefused = errors.New("connection refused")

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail != nil && d.fail(len(d.urls)) {
		return nil, errDialRefused
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		t.Fatalf("connection %d not opened (have %d)", i, len(d.conns))
	}
	return d.conns[i]
}

func alwaysFail(int) bool { return true }

// ==================== FETCHER ====================

type fetchResult struct {
	job *domain.Job
	err error
}

// fakeFetcher replays results in order, repeating the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (f *fakeFetcher) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, errors.New("no result configured")
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	if r.job != nil {
		return r.job.Clone(), r.err
	}
	return nil, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ==================== HANDLER RECORDER ====================

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) handle(ev domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Event(nil), l.events...)
}

func (l *eventLog) kinds() []domain.EventKind {
	var out []domain.EventKind
	for _, ev := range l.all() {
		out = append(out, ev.Kind)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
