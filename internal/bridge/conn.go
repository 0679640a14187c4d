package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Renderer is the host's view of the rendering surface.
type Renderer interface {
	// Send delivers a command. There is no acknowledgement.
	Send(ctx context.Context, cmd Command) error
}

// Conn is a JSON-lines transport to an out-of-process renderer. Commands are
// written to w one per line; messages are read from r one per line.
type Conn struct {
	r      io.Reader
	logger *slog.Logger

	mu sync.Mutex // serializes writes so commands arrive in call order
	w  io.Writer
}

// NewConn creates a connection. A nil logger uses slog.Default().
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{r: r, w: w, logger: logger}
}

// Send writes cmd as one line.
func (c *Conn) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.CommandName(), err)
	}
	return nil
}

// Receive reads messages until EOF or ctx is cancelled, passing each decoded
// message to sink. Lines that fail to decode are logged and dropped.
//
// Returns nil on EOF and ctx.Err() on cancellation. The reader goroutine
// stays blocked in Read until the underlying stream yields or closes.
func (c *Conn) Receive(ctx context.Context, sink func(Message)) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		br := bufio.NewReader(c.r)
		for {
			line, err := br.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			msg, err := Decode(line)
			if err != nil {
				c.logger.Warn("dropping renderer message", "err", err)
				continue
			}
			sink(msg)
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read renderer stream: %w", err)
		}
	}
}
