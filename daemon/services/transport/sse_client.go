package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
)

// SSEClientAdapter connects outward to a remote SSE MCP server, used as
// the downstream when the gateway is started with --sse <url> (spec.md
// §8 scenario 2: "sse→stdio mode pointing at a remote SSE"). It accepts an
// optional "endpoint" event carrying the POST back-channel URL, and
// "message" events or bare data: frames carrying JSON-RPC payloads. The
// gateway's own SSEServer emits only bare data: frames.
type SSEClientAdapter struct {
	handlers

	client    *http.Client
	remoteURL string
	headers   map[string]string

	mu         sync.RWMutex
	messageURL string
	closed     bool
	cancel     context.CancelFunc
}

// NewSSEClientAdapter constructs a client pointed at remoteURL. Call Start
// to open the connection.
func NewSSEClientAdapter(remoteURL string, headers map[string]string) *SSEClientAdapter {
	return &SSEClientAdapter{
		client:    &http.Client{},
		remoteURL: remoteURL,
		headers:   headers,
		// messageURL defaults to the SSE URL itself; a server advertising
		// a distinct back-channel via an "endpoint" event overrides this.
		messageURL: remoteURL,
	}
}

// Start opens the GET connection and begins the read loop in a new
// goroutine. It returns once the request has been issued.
func (a *SSEClientAdapter) Start(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, a.remoteURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("connect to remote sse endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("remote sse endpoint returned status %d", resp.StatusCode)
	}

	go a.readLoop(connCtx, resp.Body)
	return nil
}

// readLoop parses "event: X\ndata: Y\n\n" frames (double-newline
// terminated, matching the wire contract in spec.md §6) off the response
// body.
func (a *SSEClientAdapter) readLoop(ctx context.Context, body interface{ Read([]byte) (int, error) }) {
	defer func() {
		if closer, ok := body.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		a.dispatchClose()
	}()

	scanner := bufio.NewScanner(readerAdapter{body})
	scanner.Split(splitSSEFrames)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.handleFrame(ctx, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		a.dispatchError(fmt.Errorf("sse client read error: %w", err))
	}
}

func (a *SSEClientAdapter) handleFrame(ctx context.Context, frame string) {
	event := "message"
	var data strings.Builder
	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if data.Len() == 0 {
		return
	}

	if event == "endpoint" {
		a.adoptMessageEndpoint(data.String())
		return
	}

	msg, err := domain.Classify([]byte(data.String()))
	if err != nil {
		logger.Info("sse client: discarding unparseable frame: %v", err)
		return
	}
	a.dispatchMessage(ctx, msg)
}

// adoptMessageEndpoint resolves an endpoint event's payload (which may be
// relative) against the original SSE URL.
func (a *SSEClientAdapter) adoptMessageEndpoint(raw string) {
	base, err := url.Parse(a.remoteURL)
	if err != nil {
		return
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.messageURL = base.ResolveReference(ref).String()
	a.mu.Unlock()
}

// Send POSTs msg to the resolved message endpoint.
func (a *SSEClientAdapter) Send(ctx context.Context, msg *domain.JSONRPCMessage) error {
	a.mu.RLock()
	closed := a.closed
	target := a.messageURL
	a.mu.RUnlock()
	if closed {
		return fmt.Errorf("sse client adapter is closed")
	}

	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to remote sse endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote sse endpoint rejected message: status %d", resp.StatusCode)
	}
	return nil
}

// Close cancels the underlying GET connection. Idempotent.
func (a *SSEClientAdapter) Close() error {
	a.mu.Lock()
	already := a.closed
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()
	if already {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// readerAdapter satisfies io.Reader for the minimal Read-only interface
// used above, avoiding an explicit net/http import cycle in the method
// signature while keeping the dependency surface obvious at the call site.
type readerAdapter struct {
	r interface {
		Read([]byte) (int, error)
	}
}

func (ra readerAdapter) Read(p []byte) (int, error) { return ra.r.Read(p) }

// splitSSEFrames is a bufio.SplitFunc that splits on a blank line
// (\n\n), the SSE frame terminator.
func splitSSEFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	if atEOF {
		return 0, nil, nil
	}
	return 0, nil, nil
}
