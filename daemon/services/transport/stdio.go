package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
)

// StdioAdapter frames newline-delimited JSON over an arbitrary
// io.Reader/io.Writer pair (spec.md §4.1's stdio child adapter). It is
// used both as the gateway's own process stdio when the client-facing
// output transport is stdio, and — wrapped by the Child Supervisor — over
// a spawned child's stdout/stdin pipes.
//
// Grounded on daemon/services/mcp/transport.go's StdioTransport: a
// decode loop on the reader, single-writer serialization on the writer.
type StdioAdapter struct {
	handlers

	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// NewStdioAdapter constructs a StdioAdapter over the given reader/writer.
// The caller must invoke Start to begin reading.
func NewStdioAdapter(reader io.Reader, writer io.Writer) *StdioAdapter {
	return &StdioAdapter{reader: reader, writer: writer}
}

// Start begins the read loop in a new goroutine. It returns once the
// loop has been launched; the loop itself runs until ctx is cancelled or
// the reader reaches EOF.
func (a *StdioAdapter) Start(ctx context.Context) {
	go a.readLoop(ctx)
}

// readLoop splits the reader on CR?LF and emits each non-empty line as a
// candidate JSON text (spec.md §4.1). bufio.Scanner's default split
// function already normalizes CRLF/LF and reassembles a line split across
// two underlying reads, satisfying the boundary behavior in spec.md §8.
func (a *StdioAdapter) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(a.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := domain.Classify(line)
		if err != nil {
			logger.Info("stdio adapter: discarding unparseable line: %v", err)
			continue
		}
		a.dispatchMessage(ctx, msg)
	}

	if err := scanner.Err(); err != nil {
		a.dispatchError(fmt.Errorf("stdio adapter read error: %w", err))
	}
	a.dispatchClose()
}

// Send serializes msg to a single-line JSON text followed by a newline.
func (a *StdioAdapter) Send(_ context.Context, msg *domain.JSONRPCMessage) error {
	a.closeMu.Lock()
	closed := a.closed
	a.closeMu.Unlock()
	if closed {
		return fmt.Errorf("stdio adapter is closed")
	}

	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.writer.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if _, err := a.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Close marks the adapter closed and invokes the close handler. It is
// idempotent; closing twice is a no-op on the second call.
func (a *StdioAdapter) Close() error {
	a.closeMu.Lock()
	already := a.closed
	a.closed = true
	a.closeMu.Unlock()
	if already {
		return nil
	}
	a.dispatchClose()
	return nil
}
