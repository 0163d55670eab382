// Package client implements the console side of the relay: it connects to a
// server, prints everything other participants send, and forwards typed
// lines until the user quits.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// QuitCommand ends a session when typed on a line by itself.
const QuitCommand = "/quit"

const readBufferSize = 1024

// Session relays console lines to one server connection.
type Session struct {
	channel securechan.Channel
	out     io.Writer
	logger  *slog.Logger
}

// NewSession creates a session printing received messages to out.
func NewSession(ch securechan.Channel, out io.Writer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{channel: ch, out: out, logger: logger}
}

// Run reads lines from in and sends each, newline included, to the server.
// It stops at QuitCommand, end of input, a failed write, the server closing
// the connection, or ctx cancellation. The channel is closed before Run
// returns, and Run waits for the background reader to finish.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	received := make(chan struct{})
	go func() {
		defer close(received)
		s.receive()
	}()

	lines := make(chan string)
	stop := make(chan struct{})
	go scanLines(in, lines, stop)

	err := s.forward(ctx, lines, received)
	close(stop)

	if cerr := s.channel.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		s.logger.Debug("error closing connection", "err", cerr)
	}
	<-received
	return err
}

func (s *Session) forward(ctx context.Context, lines <-chan string, received <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-received:
			s.logger.Info("server closed the connection")
			return nil
		case line, ok := <-lines:
			if !ok || line == QuitCommand {
				return nil
			}
			if _, err := io.WriteString(s.channel, line+"\n"); err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
		}
	}
}

// receive prints every payload read from the server until the stream ends.
func (s *Session) receive() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.channel.Read(buf)
		if n > 0 {
			if _, werr := fmt.Fprintf(s.out, "[RECV] %s\n", bytes.TrimRight(buf[:n], "\r\n")); werr != nil {
				s.logger.Warn("error printing message", "err", werr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("receive ended", "err", err)
			}
			return
		}
	}
}

func scanLines(in io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}
