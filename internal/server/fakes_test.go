package server

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type readResult struct {
	data []byte
	err  error
}

// fakeChannel is a scriptable Channel. Reads are fed through push and end
// with net.ErrClosed once the channel is closed.
type fakeChannel struct {
	mu         sync.Mutex
	written    [][]byte
	writeErr   error
	closeCount int
	onWrite    func()
	onClose    func()

	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) push(data string, err error) {
	f.reads <- readResult{data: []byte(data), err: err}
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	select {
	case r := <-f.reads:
		n := copy(p, r.data)
		return n, r.err
	case <-f.closed:
		return 0, net.ErrClosed
	}
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	hook, err := f.onWrite, f.writeErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closeCount++
	hook := f.onClose
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeChannel) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func (f *fakeChannel) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// lockHeld reports whether mu is currently held. Tests call it from inside
// channel hooks while no other goroutine touches the table.
func lockHeld(mu *sync.Mutex) bool {
	if mu.TryLock() {
		mu.Unlock()
		return false
	}
	return true
}
