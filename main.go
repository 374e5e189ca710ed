// Command mcp-gateway is a bidirectional MCP protocol-translation gateway:
// it accepts client connections over stdio, SSE, WebSocket, or Streamable
// HTTP, and forwards their traffic to exactly one downstream — a spawned
// stdio child, a remote SSE MCP server, or a synthetic server answering
// from an OpenAPI document. main here is a thin configuration shim; all
// the wiring lives in daemon/services/gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/gateway"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

var cli struct {
	Stdio string `help:"Spawn a stdio child process as the downstream (e.g. \"npx some-mcp-server\")." xor:"input"`
	SSE   string `help:"Connect to a remote SSE MCP server as the downstream." xor:"input"`
	API   string `help:"Path to an OpenAPI document or MCP template to serve as a synthetic downstream." xor:"input"`

	APIHost string `help:"Base URL prepended to relative tool request URLs when running in --api mode."`

	OutputTransport string `default:"stdio" enum:"stdio,sse,ws,streamable-http" help:"Transport exposed to the client: stdio, sse, ws, or streamable-http."`
	Port            int    `default:"8090" help:"HTTP listen port for the sse/ws/streamable-http output transports."`
	BaseURL         string `help:"External base URL advertised to clients, if different from the listen address."`
	SSEPath         string `default:"/sse" help:"GET route for the sse output transport's event stream."`
	MessagePath     string `default:"/message" help:"POST route for the sse output transport's back-channel."`
	HTTPPath        string `default:"/mcp" help:"Route for the ws/streamable-http output transports."`

	Header       []string `help:"Custom header as 'Name: Value' (repeatable); echoed on responses and sent on outbound calls to an --sse downstream (not on --api bridge calls)."`
	OAuth2Bearer string   `help:"Bearer token added as an Authorization header on outbound calls to an --sse downstream (not on --api bridge calls)."`
	CORS         string   `help:"CORS origin policy: empty or '*' allows all, or a comma-separated origin list."`

	HealthEndpoint []string `help:"Path that answers 200 'ok' (repeatable)."`

	ToolTimeout                time.Duration `default:"30s" help:"Per-call timeout for OpenAPI bridge tool invocations."`
	AllowSingleSessionFallback bool          `default:"true" help:"Let a POST lacking a session id fall back to the sole active session."`

	LogsDir    string `default:"/var/log" help:"directory to store logs"`
	LogLevel   string `default:"info" help:"log level: debug, info, warning, error"`
	Debug      bool   `default:"false" help:"enable debug mode with stdout logging"`
	ConfigFile string `default:"/etc/mcp-gateway/config.yml" help:"optional YAML config file overlay"`
}

// cleanupOldLogs removes old rotated log files from previous versions.
// lumberjack's MaxBackups only prevents new backups from accumulating; it
// doesn't clean up existing ones from before the setting was changed.
func cleanupOldLogs(logsDir, baseName string) {
	pattern := filepath.Join(logsDir, baseName+"-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, f := range files {
		_ = os.Remove(f)
	}
}

func main() {
	kctx := kong.Parse(&cli)

	if cli.Stdio == "" && cli.SSE == "" && cli.API == "" {
		_, _ = fmt.Fprintln(os.Stderr, "error: exactly one of --stdio, --sse, --api must be provided")
		os.Exit(1)
	}

	fileCfg, err := domain.LoadConfigFile(cli.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "WARNING: failed to load config file: %v\n", err)
	}
	applyFileConfig(fileCfg)

	switch strings.ToLower(cli.LogLevel) {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
	case "info":
		logger.SetLevel(logger.LevelInfo)
	case "warning", "warn":
		logger.SetLevel(logger.LevelWarning)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}

	// stdio output mode reserves stdout for the MCP JSON-RPC wire; logs
	// must go to file + stderr instead, mirroring the teacher's mcp-stdio
	// special-casing in the original main.go.
	isStdioOutput := cli.OutputTransport == string(domain.OutputStdio)

	switch {
	case isStdioOutput:
		cleanupOldLogs(cli.LogsDir, "mcp-gateway")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, "mcp-gateway.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stderr))
	case cli.Debug:
		log.SetOutput(os.Stdout)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		logger.SetLevel(logger.LevelDebug)
		log.Println("debug mode enabled - logging to stdout")
	default:
		cleanupOldLogs(cli.LogsDir, "mcp-gateway")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, "mcp-gateway.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stdout))
	}

	log.Printf("starting mcp-gateway v%s (log level: %s)", Version, cli.LogLevel)

	cfg, err := buildConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	gw, err := gateway.Build(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	runErr := gw.Run(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	gw.Shutdown(shutdownCtx)
	shutdownCancel()

	if runErr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		kctx.Exit(1)
	}
}

// buildConfig translates the parsed CLI flags into domain.Config.
func buildConfig() (domain.Config, error) {
	cfg := domain.Config{
		Version:                    Version,
		OutputTransport:            domain.OutputTransport(cli.OutputTransport),
		Port:                       cli.Port,
		BaseURL:                    cli.BaseURL,
		SSEPath:                    cli.SSEPath,
		MessagePath:                cli.MessagePath,
		HTTPPath:                   cli.HTTPPath,
		OAuth2Bearer:               cli.OAuth2Bearer,
		HealthEndpoints:            cli.HealthEndpoint,
		ToolTimeout:                cli.ToolTimeout,
		AllowSingleSessionFallback: cli.AllowSingleSessionFallback,
		APIHost:                    cli.APIHost,
	}

	switch {
	case cli.Stdio != "":
		cfg.InputMode = domain.InputStdio
		cfg.StdioCommand = cli.Stdio
	case cli.SSE != "":
		cfg.InputMode = domain.InputSSE
		cfg.SSEURL = cli.SSE
	case cli.API != "":
		cfg.InputMode = domain.InputAPI
		cfg.APIPath = cli.API
	}

	if trimmed := strings.TrimSpace(cli.CORS); trimmed != "" && trimmed != "*" {
		for part := range strings.SplitSeq(trimmed, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, part)
			}
		}
	}

	if len(cli.Header) > 0 {
		cfg.Headers = make(map[string]string, len(cli.Header))
		for _, h := range cli.Header {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return domain.Config{}, fmt.Errorf("invalid --header %q, expected \"Name: Value\"", h)
			}
			cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	return cfg, nil
}

// applyFileConfig merges config file values into the CLI struct as a
// second default layer, the same precedence the teacher's
// main.go/applyFileConfig implements.
func applyFileConfig(cfg *domain.FileConfig) {
	if cfg == nil {
		return
	}

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	setStr(&cli.OutputTransport, cfg.OutputTransport)
	setInt(&cli.Port, cfg.Port)
	setStr(&cli.BaseURL, cfg.BaseURL)
	setStr(&cli.SSEPath, cfg.SSEPath)
	setStr(&cli.MessagePath, cfg.MessagePath)
	setStr(&cli.HTTPPath, cfg.HTTPPath)
	setStr(&cli.CORS, cfg.CORSOrigin)
	setBool(&cli.AllowSingleSessionFallback, cfg.AllowSingleSessionFallback)
	setStr(&cli.LogLevel, cfg.LogLevel)
	setStr(&cli.LogsDir, cfg.LogsDir)
	setBool(&cli.Debug, cfg.Debug)

	if cfg.ToolTimeout != nil {
		cli.ToolTimeout = time.Duration(*cfg.ToolTimeout) * time.Second
	}
}
