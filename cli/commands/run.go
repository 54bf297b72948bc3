package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/query/executor"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		file   string
		asJSON bool
		timing bool
	)

	cmd := &cobra.Command{
		Use:   "run [chain]",
		Short: "Run a chain against the configured database",
		Long: `Compile a chain, execute it with the configured driver and print the result.

Drivers: sqlite (modernc.org/sqlite), sqlite3 (mattn/go-sqlite3), postgres (lib/pq),
pgx (jackc/pgx) and mysql (go-sql-driver/mysql).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := readChain(args, file, stdin())
			if err != nil {
				return err
			}
			var mw []executor.Middleware
			if timing {
				mw = append(mw, executor.TimingMiddleware(func(_ string, d time.Duration) {
					ui.PrintInfo("executed in %s", d.Round(time.Microsecond))
				}))
			}
			engine, err := a.engine(mw...)
			if err != nil {
				return err
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := engine.Query(cmd.Context(), db, chain)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(ui.Out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			if n, ok := v.(int64); ok && isModification(chain) {
				ui.PrintSuccess("%d rows affected", n)
				return nil
			}
			headers, rows := tabulate(v)
			if len(rows) == 0 {
				ui.PrintInfo("no rows")
				return nil
			}
			if err := ui.PrintTable(headers, rows); err != nil {
				return err
			}
			if len(rows) > 1 {
				fmt.Fprintf(ui.Out, "(%d rows)\n", len(rows))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the chain from a file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&timing, "timing", false, "print how long the statement took")
	return cmd
}
