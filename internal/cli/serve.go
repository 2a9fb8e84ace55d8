package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/membank/membank/internal/api"
	"github.com/membank/membank/internal/mcp"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			addr := serveAddr
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}

			router := api.NewRouter(api.Deps{
				DB:               a.db,
				Manager:          a.manager,
				Search:           a.search,
				Consolidations:   a.consolidation,
				Links:            a.links,
				Router:           a.router,
				SyncEngine:       a.syncEngine,
				EmbedderHealth:   a.embedderHealth,
				IndexHealth:      a.indexHealth,
				ProviderDefaults: a.providerDefaults(),
				Logger:           a.logger,
			})

			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		})
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP stdio server for agent frontends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			server := mcp.NewServer(a.manager, a.search, a.consolidation, a.syncEngine,
				a.router, os.Stdin, os.Stdout, a.logger)
			return server.Run(cmd.Context())
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: configured http.addr)")

	rootCmd.AddCommand(serveCmd, mcpCmd)
}
