package server

import (
	"log/slog"
	"time"
)

// writeDeadliner is implemented by channels whose writes can be bounded in
// time, such as TLS connections.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Relay fans a message out to every active slot except its origin.
type Relay struct {
	table        *Table
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRelay creates a relay over table. A positive writeTimeout bounds each
// write to a channel that supports write deadlines.
func NewRelay(table *Table, writeTimeout time.Duration, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{table: table, writeTimeout: writeTimeout, logger: logger}
}

// Broadcast writes msg to every active slot other than origin, one after
// another, and returns how many writes succeeded. A failed write is logged and
// does not stop delivery to the remaining recipients.
//
// Writes are issued without any relay-level lock. Two handlers broadcasting at
// once may write to the same channel concurrently; channels serialize their
// own writes. A recipient that stops reading holds up a broadcast for at most
// the write timeout.
func (r *Relay) Broadcast(msg []byte, origin int) int {
	recipients := r.table.SnapshotActiveExcept(origin)

	delivered := 0
	for _, rcpt := range recipients {
		if err := r.deliver(rcpt, msg); err != nil {
			r.logger.Warn("relay write failed",
				"slot", rcpt.Index, "session", rcpt.Session, "origin", origin, "err", err)
			continue
		}
		delivered++
	}

	r.logger.Debug("broadcast complete",
		"origin", origin, "bytes", len(msg), "recipients", len(recipients), "delivered", delivered)
	return delivered
}

func (r *Relay) deliver(rcpt Recipient, msg []byte) error {
	if d, ok := rcpt.Channel.(writeDeadliner); ok && r.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := rcpt.Channel.Write(msg)
	return err
}
