package server

import (
	"errors"
	"io"
	"net"
	"strings"
)

var (
	// ErrCapacityExceeded is returned by Table.Acquire when every slot is occupied.
	ErrCapacityExceeded = errors.New("connection table is full")

	// ErrSlotNotActive is returned when releasing a slot that holds no channel.
	ErrSlotNotActive = errors.New("slot is not active")

	// ErrSlotOutOfRange is returned for an index outside the table.
	ErrSlotOutOfRange = errors.New("slot index out of range")

	// ErrServerClosed is returned by Serve after Shutdown has been called.
	ErrServerClosed = errors.New("server closed")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
