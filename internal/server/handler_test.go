package server

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

type handlerFixture struct {
	table *Table
	relay *Relay
	cfg   Config
}

func newHandlerFixture(capacity int) *handlerFixture {
	cfg := sanitizeConfig(Config{Capacity: capacity, RateLimit: RateLimitConfig{Burst: -1}})
	table := NewTable(capacity, discardLogger())
	return &handlerFixture{
		table: table,
		relay: NewRelay(table, time.Second, discardLogger()),
		cfg:   cfg,
	}
}

// start runs a handler for ch in the background and waits until it holds a
// slot. The returned channel is closed when Run returns.
func (f *handlerFixture) start(t *testing.T, ch *fakeChannel) (*Handler, <-chan struct{}) {
	t.Helper()
	h := newHandler("session", "test", f.table, f.relay, f.cfg, discardLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(context.Background(), func() (securechan.Channel, error) { return ch, nil })
	}()
	waitFor(t, "handler to become active", func() bool { return h.State() == StateActive })
	return h, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handler did not finish")
	}
}

// TestHandlerRelaysAndReleasesOnEOF verifies the full lifecycle: reads are
// relayed to other slots, end-of-stream frees the slot exactly once, and the
// handler ends in the closed state.
func TestHandlerRelaysAndReleasesOnEOF(t *testing.T) {
	f := newHandlerFixture(3)
	a, b := newFakeChannel(), newFakeChannel()

	h, done := f.start(t, a)
	mustAcquire(t, f.table, b)

	a.push("hello\n", nil)
	waitFor(t, "B to receive", func() bool { return len(b.messages()) == 1 })
	if h.State() != StateActive {
		t.Errorf("Expected state active, got %s", h.State())
	}

	a.push("", io.EOF)
	waitDone(t, done)

	if got := b.messages(); got[0] != "hello\n" {
		t.Errorf("B expected \"hello\\n\", got %q", got)
	}
	if len(a.messages()) != 0 {
		t.Errorf("A received its own message: %q", a.messages())
	}
	if a.closes() != 1 {
		t.Errorf("Expected A closed once, got %d", a.closes())
	}
	if h.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", h.State())
	}
	if f.table.Active() != 1 {
		t.Errorf("Expected only B active, got %d", f.table.Active())
	}
	for _, r := range f.table.SnapshotActiveExcept(-1) {
		if r.Channel == a {
			t.Error("Closed channel still present in the table")
		}
	}
}

// TestHandlerRelaysPayloadReturnedWithError verifies that bytes returned
// together with an error are still relayed before the slot is released.
func TestHandlerRelaysPayloadReturnedWithError(t *testing.T) {
	f := newHandlerFixture(2)
	a, b := newFakeChannel(), newFakeChannel()

	_, done := f.start(t, a)
	mustAcquire(t, f.table, b)

	a.push("last words", io.EOF)
	waitDone(t, done)

	if got := b.messages(); len(got) != 1 || got[0] != "last words" {
		t.Errorf("Expected [\"last words\"], got %q", got)
	}
}

// TestHandlerReleasesOnReadError verifies that any read error ends the
// connection, not only end-of-stream.
func TestHandlerReleasesOnReadError(t *testing.T) {
	f := newHandlerFixture(2)
	a := newFakeChannel()

	_, done := f.start(t, a)
	a.push("", errors.New("bad record MAC"))
	waitDone(t, done)

	if f.table.Active() != 0 {
		t.Errorf("Expected empty table, got %d active", f.table.Active())
	}
}

// TestHandlerWriteFailureIsolated injects a write failure on B while A
// broadcasts: C still receives, and B keeps reading and relaying until it
// disconnects on its own.
func TestHandlerWriteFailureIsolated(t *testing.T) {
	f := newHandlerFixture(3)
	a, b, c := newFakeChannel(), newFakeChannel(), newFakeChannel()

	_, doneA := f.start(t, a)
	hB, doneB := f.start(t, b)
	_, doneC := f.start(t, c)

	b.setWriteErr(errors.New("injected write failure"))
	a.push("from A", nil)
	waitFor(t, "C to receive A's message", func() bool { return len(c.messages()) == 1 })

	if c.messages()[0] != "from A" {
		t.Errorf("C expected \"from A\", got %q", c.messages())
	}
	if hB.State() != StateActive {
		t.Errorf("B should stay active after a failed relay write, got %s", hB.State())
	}

	b.push("from B", nil)
	waitFor(t, "A and C to receive B's message", func() bool {
		return len(a.messages()) == 1 && len(c.messages()) == 2
	})
	if a.messages()[0] != "from B" || c.messages()[1] != "from B" {
		t.Errorf("Unexpected deliveries: A=%q C=%q", a.messages(), c.messages())
	}

	b.push("", io.EOF)
	waitDone(t, doneB)
	if f.table.Active() != 2 {
		t.Errorf("Expected A and C still active, got %d", f.table.Active())
	}

	f.table.CloseAll()
	waitDone(t, doneA)
	waitDone(t, doneC)
	if f.table.Active() != 0 {
		t.Errorf("Expected empty table, got %d active", f.table.Active())
	}
}

// TestHandlerRateLimitDropsExcess verifies that messages over the burst are
// discarded while the connection stays up.
func TestHandlerRateLimitDropsExcess(t *testing.T) {
	f := newHandlerFixture(2)
	f.cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	a, b := newFakeChannel(), newFakeChannel()

	h, done := f.start(t, a)
	mustAcquire(t, f.table, b)

	for i := 0; i < 3; i++ {
		a.push("spam", nil)
	}
	a.push("", io.EOF)
	waitDone(t, done)

	if got := len(b.messages()); got != 2 {
		t.Errorf("Expected 2 relayed messages, got %d", got)
	}
	if h.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", h.State())
	}
}

// TestHandlerDefaultConfigRelaysEveryRead verifies that with the default
// configuration no read is ever dropped, however fast they arrive.
func TestHandlerDefaultConfigRelaysEveryRead(t *testing.T) {
	f := newHandlerFixture(2)
	f.cfg = *NewConfig()
	a, b := newFakeChannel(), newFakeChannel()

	_, done := f.start(t, a)
	mustAcquire(t, f.table, b)

	const reads = 30
	for i := 0; i < reads; i++ {
		a.push("line\n", nil)
	}
	a.push("", io.EOF)
	waitDone(t, done)

	if got := len(b.messages()); got != reads {
		t.Errorf("Expected %d relayed messages, got %d", reads, got)
	}
}

// TestHandlerStateDuringHandshake verifies the handler reports the
// handshaking state until its channel is established.
func TestHandlerStateDuringHandshake(t *testing.T) {
	f := newHandlerFixture(2)
	h := newHandler("session", "test", f.table, f.relay, f.cfg, discardLogger())
	if h.State() != StateHandshaking {
		t.Fatalf("Expected a new handler to be handshaking, got %s", h.State())
	}

	entered := make(chan struct{})
	proceed := make(chan struct{})
	a := newFakeChannel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(context.Background(), func() (securechan.Channel, error) {
			close(entered)
			<-proceed
			return a, nil
		})
	}()

	<-entered
	if h.State() != StateHandshaking {
		t.Errorf("Expected handshaking during establish, got %s", h.State())
	}
	if f.table.Active() != 0 {
		t.Error("Slot taken before the handshake finished")
	}

	close(proceed)
	waitFor(t, "handler to become active", func() bool { return h.State() == StateActive })
	a.push("", io.EOF)
	waitDone(t, done)
	if h.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", h.State())
	}
}

// TestHandlerHandshakeFailure verifies a failed handshake never takes a slot.
func TestHandlerHandshakeFailure(t *testing.T) {
	f := newHandlerFixture(2)
	h := newHandler("session", "test", f.table, f.relay, f.cfg, discardLogger())

	h.Run(context.Background(), func() (securechan.Channel, error) {
		return nil, errors.New("bad certificate")
	})

	if h.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", h.State())
	}
	if f.table.Active() != 0 {
		t.Errorf("Failed handshake occupied a slot")
	}
}

// TestHandlerCapacityExceeded verifies a connection arriving at a full table
// is closed and leaves the existing slots untouched.
func TestHandlerCapacityExceeded(t *testing.T) {
	f := newHandlerFixture(1)
	occupant := newFakeChannel()
	mustAcquire(t, f.table, occupant)

	extra := newFakeChannel()
	h := newHandler("session", "test", f.table, f.relay, f.cfg, discardLogger())
	h.Run(context.Background(), func() (securechan.Channel, error) { return extra, nil })

	if extra.closes() != 1 {
		t.Errorf("Expected the rejected channel closed once, got %d", extra.closes())
	}
	if occupant.closes() != 0 || f.table.Active() != 1 {
		t.Error("Rejection disturbed the occupied slot")
	}
	if h.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", h.State())
	}
}

// TestStateString verifies the state names used in logs.
func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateHandshaking, "handshaking"},
		{StateActive, "active"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{State(42), "invalid"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
