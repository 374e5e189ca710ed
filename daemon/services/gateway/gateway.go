// Package gateway assembles the session manager, router, chosen
// downstream, chosen output transport(s), and HTTP server into the single
// running process spec.md describes, the way the teacher's
// daemon/services/api.Server assembles routes, middleware, and background
// subscriptions behind one constructor (spec.md §1 "a thin configuration
// shim wires the rest together").
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/childsupervisor"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/headerpolicy"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/openapi"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/router"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/session"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/transport"
)

// Gateway owns every long-running component of one running process:
// the session registry, the router, exactly one downstream, one or more
// client-facing transports, and (when any of those need to be reached
// over the network) an HTTP server.
type Gateway struct {
	cfg    domain.Config
	bus    *domain.EventBus
	policy *headerpolicy.Policy

	sessions *session.Manager
	router   *router.Router

	supervisor  *childsupervisor.Supervisor
	sseClient   *transport.SSEClientAdapter
	bridge      *openapi.Bridge
	bridgeWarns []string

	mux        *mux.Router
	httpServer *http.Server

	stdioAdapter *transport.StdioAdapter
}

// Build wires every component from cfg but does not start anything; call
// Run to start the downstream and, if configured, the HTTP listener.
func Build(cfg domain.Config) (*Gateway, error) {
	outboundHeaders := map[string]string{}
	for k, v := range cfg.Headers {
		outboundHeaders[k] = v
	}
	if cfg.OAuth2Bearer != "" {
		outboundHeaders["Authorization"] = "Bearer " + cfg.OAuth2Bearer
	}

	policy := headerpolicy.NewPolicy("", cfg.Headers)
	if len(cfg.CORSOrigins) > 0 {
		policy = headerpolicy.NewPolicyFromList(cfg.CORSOrigins, cfg.Headers)
	}

	g := &Gateway{
		cfg:      cfg,
		bus:      domain.NewEventBus(1024),
		policy:   policy,
		sessions: session.NewManager(),
	}
	g.router = router.New(g.sessions, g.bus)

	switch cfg.InputMode {
	case domain.InputStdio:
		g.buildStdioDownstream()
	case domain.InputSSE:
		g.buildSSEDownstream(outboundHeaders)
	case domain.InputAPI:
		if err := g.buildAPIDownstream(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("gateway: unknown input mode %q", cfg.InputMode)
	}

	g.buildHTTPRoutes()
	return g, nil
}

func (g *Gateway) buildStdioDownstream() {
	sup := childsupervisor.NewSupervisor(g.cfg.StdioCommand)
	sup.OnReady = func(generation uint64, adapter transport.Adapter) {
		if generation > 1 {
			reconnectAttempts.Inc()
		}
		adapter.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
			g.router.HandleDownstream(ctx, msg)
		})
		g.router.SetDownstream(context.Background(), generation, adapter)
	}
	sup.OnStderrError = func(line string) {
		g.router.BroadcastStderrError(context.Background(), line)
	}
	sup.OnTerminal = func(err error) {
		logger.Error("child supervisor exhausted reconnect budget: %v", err)
		g.router.BroadcastTerminalError(context.Background(), 10)
	}
	g.supervisor = sup
}

func (g *Gateway) buildSSEDownstream(outboundHeaders map[string]string) {
	client := transport.NewSSEClientAdapter(g.cfg.SSEURL, outboundHeaders)
	client.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
		g.router.HandleDownstream(ctx, msg)
	})
	g.sseClient = client
}

func (g *Gateway) buildAPIDownstream(cfg domain.Config) error {
	result, err := openapi.Load(cfg.APIPath)
	if err != nil {
		return fmt.Errorf("loading openapi/mcp document: %w", err)
	}
	for _, w := range result.Warnings {
		logger.Warning("openapi bridge: %s", w)
	}

	apiHost := cfg.APIHost
	if apiHost == "" {
		apiHost = result.Template.Server.APIHost
	}

	bridge := openapi.NewBridge(result.Template.Tools, apiHost, cfg.ToolTimeout)
	bridge.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
		g.router.HandleDownstream(ctx, msg)
	})
	g.bridge = bridge
	g.bridgeWarns = result.Warnings
	return nil
}

// buildHTTPRoutes mounts health endpoints, /metrics, /mcp-config (when an
// OpenAPI bridge is active), and the routes for the configured output
// transport, behind the same middleware stack the teacher's api.Server
// applies (spec.md §6 external interfaces).
func (g *Gateway) buildHTTPRoutes() {
	r := mux.NewRouter()
	r.Use(corsMiddleware(g.policy))
	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	r.HandleFunc("/metrics", g.handleMetrics).Methods(http.MethodGet)

	for _, path := range g.cfg.HealthEndpoints {
		r.HandleFunc(path, g.handleHealth).Methods(http.MethodGet)
	}

	if g.bridge != nil {
		r.HandleFunc("/mcp-config", g.handleMCPConfig).Methods(http.MethodGet)
	}

	switch g.cfg.OutputTransport {
	case domain.OutputSSE:
		g.mountSSE(r)
	case domain.OutputWebSocket:
		g.mountWebSocket(r)
	case domain.OutputStreamableHTTP:
		g.mountStreamableHTTP(r)
	case domain.OutputStdio:
		// No HTTP route: the gateway's own stdin/stdout is the transport.
		// Health/metrics routes above still serve over cfg.Port.
	}

	g.mux = r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.policy.ApplyCustomHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (g *Gateway) handleMCPConfig(w http.ResponseWriter, r *http.Request) {
	g.policy.ApplyCustomHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	tmpl := domain.MCPTemplate{
		Server: domain.ServerBlock{APIHost: g.cfg.APIHost},
		Tools:  g.bridge.Tools(),
	}
	_ = json.NewEncoder(w).Encode(tmpl)
}

func (g *Gateway) mountSSE(r *mux.Router) {
	srv := transport.NewSSEServer(g.cfg.SSEPath, g.cfg.MessagePath, g.cfg.AllowSingleSessionFallback)
	srv.OnConnect = func(sessionID string, clientHeaders map[string]string, adapter transport.Adapter) {
		s := g.sessions.GetOrCreate(sessionID, adapter, clientHeaders)
		adapter.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
			g.router.HandleUpstream(ctx, s.ID, msg)
		})
	}
	r.HandleFunc(srv.SSEPath(), srv.SSEHandler()).Methods(http.MethodGet)
	r.HandleFunc(srv.MessagePath(), srv.PostHandler()).Methods(http.MethodPost, http.MethodOptions)
}

func (g *Gateway) mountWebSocket(r *mux.Router) {
	path := g.cfg.HTTPPath
	r.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		adapter, err := transport.UpgradeWebSocket(w, req)
		if err != nil {
			logger.Warning("websocket upgrade failed: %v", err)
			return
		}
		sessionID := req.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			sessionID = req.Header.Get("X-Session-Id")
		}
		headers := make(map[string]string, len(req.Header))
		for k, v := range req.Header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
		s := g.sessions.GetOrCreate(sessionID, adapter, headers)
		adapter.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
			g.router.HandleUpstream(ctx, s.ID, msg)
		})
		adapter.OnClose(func() { g.sessions.Retire(s.ID) })
		adapter.Start(req.Context())
	})
}

func (g *Gateway) mountStreamableHTTP(r *mux.Router) {
	reg := transport.NewStreamableHTTPRegistry()
	reg.OnNewSession = func(sessionID string, clientHeaders map[string]string, adapter transport.Adapter) {
		s := g.sessions.GetOrCreate(sessionID, adapter, clientHeaders)
		adapter.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
			g.router.HandleUpstream(ctx, s.ID, msg)
		})
	}
	r.HandleFunc(g.cfg.HTTPPath, reg.Handler()).Methods(
		http.MethodPost, http.MethodGet, http.MethodDelete, http.MethodOptions)
}

// Run starts the configured downstream and, if this process needs a
// listener (any output transport other than stdio, or any health/metrics
// route), the HTTP server. It blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	switch {
	case g.supervisor != nil:
		g.supervisor.Start(ctx)
	case g.sseClient != nil:
		if err := g.sseClient.Start(ctx); err != nil {
			return fmt.Errorf("connecting to remote sse downstream: %w", err)
		}
		g.router.SetDownstream(ctx, 1, g.sseClient)
	case g.bridge != nil:
		g.router.SetDownstream(ctx, 1, g.bridge)
	}

	if g.cfg.OutputTransport == domain.OutputStdio {
		g.stdioAdapter = transport.NewStdioAdapter(os.Stdin, os.Stdout)
		s := g.sessions.GetOrCreate("", g.stdioAdapter, nil)
		g.stdioAdapter.OnMessage(func(msgCtx context.Context, msg *domain.JSONRPCMessage) {
			g.router.HandleUpstream(msgCtx, s.ID, msg)
		})
		g.stdioAdapter.Start(ctx)
	}

	if g.mux == nil {
		<-ctx.Done()
		return nil
	}

	g.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", g.cfg.Port),
		Handler:      g.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("mcp-gateway listening on %s", g.httpServer.Addr)
	errCh := make(chan error, 1)
	go func() { errCh <- g.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !strings.Contains(err.Error(), "Server closed") {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Shutdown tears down the HTTP listener and the child process (if any),
// giving both a bounded grace period (spec.md §5 "Gateway shutdown
// cancels all sessions, closes all adapters, terminates the child, then
// exits").
func (g *Gateway) Shutdown(ctx context.Context) {
	if g.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error: %v", err)
		}
	}
	if g.supervisor != nil {
		g.supervisor.Shutdown()
	}
	if g.sseClient != nil {
		_ = g.sseClient.Close()
	}
	if g.stdioAdapter != nil {
		_ = g.stdioAdapter.Close()
	}
}
