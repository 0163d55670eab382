package server

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// DefaultCapacity is the number of slots in a server's connection table.
const DefaultCapacity = 10

type slot struct {
	channel securechan.Channel
	session string
	active  bool
}

// Recipient is a point-in-time reference to an occupied slot.
type Recipient struct {
	Index   int
	Session string
	Channel securechan.Channel
}

// Table is a fixed-size registry of active channels guarded by one mutex.
// The lock is held only for scans and flag updates, never across channel I/O.
type Table struct {
	mu     sync.Mutex
	slots  []slot
	logger *slog.Logger
}

// NewTable creates a table with the given number of slots. A non-positive
// capacity falls back to DefaultCapacity.
func NewTable(capacity int, logger *slog.Logger) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		slots:  make([]slot, capacity),
		logger: logger,
	}
}

// Capacity returns the fixed number of slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Acquire stores ch in the lowest-numbered free slot and returns its index.
// When every slot is occupied it returns ErrCapacityExceeded and the caller
// keeps ownership of ch.
func (t *Table) Acquire(ch securechan.Channel) (int, error) {
	return t.acquire(ch, "")
}

func (t *Table) acquire(ch securechan.Channel, session string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].active {
			continue
		}
		t.slots[i] = slot{channel: ch, session: session, active: true}
		return i, nil
	}
	return -1, ErrCapacityExceeded
}

// Release frees the slot at index and closes its channel. Only the handler
// that owns the slot may call it, and only once.
func (t *Table) Release(index int) error {
	t.mu.Lock()
	if index < 0 || index >= len(t.slots) {
		t.mu.Unlock()
		return fmt.Errorf("release %d: %w", index, ErrSlotOutOfRange)
	}
	s := t.slots[index]
	if !s.active {
		t.mu.Unlock()
		return fmt.Errorf("release %d: %w", index, ErrSlotNotActive)
	}
	t.slots[index] = slot{}
	t.mu.Unlock()

	if err := s.channel.Close(); err != nil && !isExpectedCloseError(err) {
		t.logger.Warn("error closing channel", "slot", index, "session", s.session, "err", err)
	}
	return nil
}

// SnapshotActiveExcept returns every active slot other than index. Slots may
// be released right after the snapshot is taken; writes to them then fail and
// are reported by the relay.
func (t *Table) SnapshotActiveExcept(index int) []Recipient {
	t.mu.Lock()
	defer t.mu.Unlock()

	recipients := make([]Recipient, 0, len(t.slots))
	for i, s := range t.slots {
		if i == index || !s.active {
			continue
		}
		recipients = append(recipients, Recipient{Index: i, Session: s.session, Channel: s.channel})
	}
	return recipients
}

// Active returns the number of occupied slots.
func (t *Table) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, s := range t.slots {
		if s.active {
			count++
		}
	}
	return count
}

// CloseAll closes the channel of every occupied slot without freeing it.
// Owning handlers observe the failed read and release their slots.
func (t *Table) CloseAll() int {
	recipients := t.SnapshotActiveExcept(-1)
	for _, r := range recipients {
		if err := r.Channel.Close(); err != nil && !isExpectedCloseError(err) {
			t.logger.Warn("error closing channel", "slot", r.Index, "session", r.Session, "err", err)
		}
	}
	return len(recipients)
}
