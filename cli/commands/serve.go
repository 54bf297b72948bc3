package commands

import (
	"database/sql"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/server"
	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/internal/debug"
)

func newServeCommand(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compiler over HTTP",
		Long: `Start an HTTP server with POST /api/sql, /api/explain and /api/query, each taking
{"chain": "..."}, and GET /api/stats. /api/query is available when a database is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			var db *sql.DB
			if a.cfg.DatabaseURL != "" {
				if db, err = a.openDB(); err != nil {
					return err
				}
				defer db.Close()
			} else {
				debug.Warn("no database configured, /api/query is disabled")
			}

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ui.PrintInfo("Serving %s on %s", engine.Dialect().Key(), addr)
			return server.Serve(ctx, addr, server.NewHandler(engine, db).Router())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config, :8080)")
	return cmd
}
