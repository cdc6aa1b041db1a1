package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/opconsole/internal/api"
	"github.com/kalambet/opconsole/internal/tui"
)

const shutdownTimeout = 5 * time.Second

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live console",
	Long: `Open the live console: graph, pipeline, timeline and run log views that
refresh on their own, with a prompt line for requests and slash commands.

Logs go to opconsole.log in the data directory while the console is open.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.Close()

		s.logger.Info("live console starting", "backend", s.client.BaseURL())
		return tui.Run(ctx, s.console)
	},
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the console views over HTTP, or as MCP tools over stdio",
	Long: `Serve the console views over HTTP on 127.0.0.1, with a server-sent event
stream at /events. With --mcp, expose the views and actions as MCP tools on
stdin/stdout instead.

Examples:
  opconsole serve
  opconsole serve --port 4200 --token s3cret
  opconsole serve --mcp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		token, _ := cmd.Flags().GetString("token")
		mcpMode, _ := cmd.Flags().GetBool("mcp")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		s.console.Start(ctx)
		defer s.console.Stop()

		if mcpMode {
			mcpSrv := api.NewMCPServer(api.MCPDeps{
				Console: s.console,
				Journal: s.store,
				Version: version,
			})
			s.logger.Info("serving MCP on stdio")
			return server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
		}

		if port == 0 {
			port = s.cfg.Server.Port
		}
		if token == "" {
			token = os.Getenv("OPCONSOLE_SERVER_TOKEN")
		}
		return serveHTTP(ctx, fmt.Sprintf("127.0.0.1:%d", port), api.NewServer(api.ServerDeps{
			Console: s.console,
			Token:   token,
			Logger:  s.logger,
		}))
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default from server.port)")
	serveCmd.Flags().String("token", "", "require this bearer token (default $OPCONSOLE_SERVER_TOKEN)")
	serveCmd.Flags().Bool("mcp", false, "serve MCP tools on stdio instead of HTTP")
}

// serveHTTP runs handler on addr until ctx is cancelled, then shuts down gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printStep("opconsole listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
