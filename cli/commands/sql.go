package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/cli/internal/watch"
)

func newSQLCommand(a *app) *cobra.Command {
	var (
		file       string
		parameters bool
		watchMode  bool
	)

	cmd := &cobra.Command{
		Use:   "sql [chain]",
		Short: "Print the SQL for a chain",
		Long: `Compile a chain and print its SQL. Literals are inlined unless --params is given, in
which case the statement is printed with placeholders followed by its arguments.`,
		Example: `  shaolinq sql "Person.Where(p => p.Age > 18).OrderBy(p => p.Name).Take(10)"
  shaolinq sql --dialect postgresql --params --file query.chain
  shaolinq sql --watch --file query.chain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			render := func() error {
				return printSQL(a, args, file, parameters)
			}
			if !watchMode {
				return render()
			}
			if file == "" {
				return fmt.Errorf("--watch needs --file")
			}
			return watchAndRender(cmd.Context(), render, file, a.cfg.ModelPath)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the chain from a file")
	cmd.Flags().BoolVar(&parameters, "params", false, "print placeholders and arguments instead of inlined literals")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "recompile when the chain or model file changes")
	return cmd
}

func printSQL(a *app, args []string, file string, parameters bool) error {
	chain, err := readChain(args, file, stdin())
	if err != nil {
		return err
	}
	engine, err := a.engine()
	if err != nil {
		return err
	}
	if !parameters {
		text, err := engine.Text(chain)
		if err != nil {
			return err
		}
		ui.PrintSQL(text)
		return nil
	}
	c, err := engine.Prepare(chain)
	if err != nil {
		return err
	}
	ui.PrintSQL(c.SQL)
	for i, arg := range c.Args {
		fmt.Fprintf(ui.Out, "  %s = %s\n", engine.Dialect().Placeholder(i+1), cell(arg))
	}
	return nil
}

func watchAndRender(ctx context.Context, render func() error, files ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := watch.NewWatcher(func() error {
		err := render()
		if err != nil {
			ui.PrintError("%v", err)
		}
		return err
	}, files...)
	if err != nil {
		return err
	}
	ui.PrintInfo("Watching %v for changes (Ctrl+C to stop)", files)
	return w.Run(ctx)
}
