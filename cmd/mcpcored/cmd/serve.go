package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/config"
	"github.com/openmcp-run/mcpcore/internal/server"
	mcphttp "github.com/openmcp-run/mcpcore/transport/server/http"
)

var stdioMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Serve starts mcpcored. By default it listens over HTTP, exposing both
the Streamable-HTTP transport (POST/GET/DELETE on /mcp) and the legacy SSE
transport (/sse, /message) side by side, plus /metrics and /health.

With --stdio it instead serves a single session over stdin/stdout, for use as
a subprocess launched by an MCP client.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&stdioMode, "stdio", false, "serve a single session over stdin/stdout instead of HTTP")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	info := mcprpc.ServerInfo{Name: "mcpcored", Version: Version}
	caps := mcprpc.ServerCapabilities{
		Tools:     &mcprpc.ToolsCapability{ListChanged: true},
		Resources: &mcprpc.ResourcesCapability{ListChanged: true, Subscribe: true},
		Prompts:   &mcprpc.PromptsCapability{ListChanged: true},
		Logging:   &struct{}{},
	}

	srv, err := server.New(cfg, info, caps)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}
	registerExampleTools(srv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if stdioMode {
		logger.Info("serving over stdio")
		return srv.ServeStdio(ctx)
	}
	return serveHTTP(ctx, srv, cfg, logger)
}

func serveHTTP(ctx context.Context, srv *server.Server, cfg *config.ServerConfig, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.StreamableHandler("/mcp"))
	mux.Handle("/mcp/", srv.StreamableHandler("/mcp"))
	mux.Handle("/sse", srv.SSEHandler("/sse", "/message"))
	mux.Handle("/message", srv.SSEHandler("/sse", "/message"))
	mux.Handle("/metrics", srv.Metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := mcphttp.NewServer(cfg.Server.HTTPAddr, mux, splitFallbackAddrs(cfg.Server.SSEFallbackAddr)...)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving over http", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.SessionTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// splitFallbackAddrs parses a comma-separated SSEFallbackAddr into the
// ordered list of addresses Start tries after the primary one is in use.
func splitFallbackAddrs(raw string) []string {
	if raw == "" {
		return nil
	}
	var addrs []string
	for _, a := range strings.Split(raw, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registerExampleTools seeds a minimal "echo" tool so a freshly started
// server has something to call; real deployments register their own tools
// via the server package before calling ServeStdio/StreamableHandler.
func registerExampleTools(srv *server.Server) {
	srv.AddTool(mcprpc.Tool{
		Name:        "echo",
		Description: "Echoes the provided text back to the caller.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}, func(ctx context.Context, params mcprpc.CallToolParams) (*mcprpc.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, err
		}
		return &mcprpc.CallToolResult{
			Content: []mcprpc.Content{{Type: mcprpc.ContentTypeText, Text: args.Text}},
		}, nil
	})
}
