package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTransport is a scriptable Transport: tests push inbound frames and
// inspect outbound envelopes.
type fakeTransport struct {
	in chan []byte

	mu     sync.Mutex
	writes []Envelope
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 32)}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	b, ok := <-t.in
	if !ok {
		return nil, errors.New("transport closed")
	}
	return b, nil
}

func (t *fakeTransport) WriteJSON(v interface{}) error {
	env, ok := v.(*Envelope)
	if !ok {
		return errors.New("unexpected write type")
	}
	t.mu.Lock()
	t.writes = append(t.writes, *env)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.in)
	}
	return nil
}

func (t *fakeTransport) writeCount(event EventName) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.writes {
		if w.Event == event {
			n++
		}
	}
	return n
}

func (t *fakeTransport) lastWrite(event EventName) (Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].Event == event {
			return t.writes[i], true
		}
	}
	return Envelope{}, false
}

// fakeTimer is a manually fired Timer.
type fakeTimer struct {
	d time.Duration
	f func()

	mu    sync.Mutex
	state int // 0 armed, 1 stopped, 2 fired
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == 0 {
		t.state = 1
		return true
	}
	return false
}

func (t *fakeTimer) fire() bool {
	t.mu.Lock()
	if t.state != 0 {
		t.mu.Unlock()
		return false
	}
	t.state = 2
	t.mu.Unlock()
	t.f()
	return true
}

// timerSet is a TimerFactory whose timers fire only on request.
type timerSet struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *timerSet) factory(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

// fire fires the oldest armed timer with the given duration.
func (s *timerSet) fire(d time.Duration) bool {
	s.mu.Lock()
	candidates := append([]*fakeTimer{}, s.timers...)
	s.mu.Unlock()
	for _, t := range candidates {
		if t.d == d && t.fire() {
			return true
		}
	}
	return false
}

func (s *timerSet) armed(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		t.mu.Lock()
		if t.state == 0 && t.d == d {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// recordingAlerter counts acquisitions of the audio-alert resource.
type recordingAlerter struct {
	mu     sync.Mutex
	active bool
	starts int
	stops  int
}

func (a *recordingAlerter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
	a.starts++
}

func (a *recordingAlerter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.stops++
}

func (a *recordingAlerter) isActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func newTestClient(t *testing.T, ts *timerSet) (*Client, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := New(Config{
		UserID: "me",
		WSURL:  "ws://portal.test/ws",
		Logger: zerolog.Nop(),
		Timers: ts.factory,
		Dialer: func(ctx context.Context, wsURL, credential string) (Transport, error) {
			return tr, nil
		},
		RetryDelay: time.Millisecond,
	})
	if err := c.Connect(context.Background(), "test-token"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c, tr
}

// deliver dispatches an inbound event synchronously, bypassing the read
// loop so tests stay deterministic.
func deliver(t *testing.T, c *Client, event EventName, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	c.dispatch(&Envelope{Event: event, Data: data})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
