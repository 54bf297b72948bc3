// Package commands implements the shaolinq CLI commands.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/microtan/shaolinq/cli/internal/config"
	"github.com/microtan/shaolinq/cli/internal/version"
	"github.com/microtan/shaolinq/internal/debug"
)

// app is the state shared by every command once flags and config are resolved.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	var configFile string

	root := &cobra.Command{
		Use:           "shaolinq",
		Short:         "Compile operator chains into SQL",
		Long:          "shaolinq translates query operator chains over an entity model into SQL for generic-92, SQLite, PostgreSQL and MySQL, and can run them.",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				a.v.SetConfigFile(configFile)
			}
			cfg, err := config.LoadConfig(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			debug.Configure(debug.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
			return nil
		},
	}

	v, err := config.New()
	if err != nil {
		// without a home directory only the working directory is searched
		v = viper.New()
	}
	a.v = v

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./.shaolinq.yaml)")
	flags.String("model", "", "entity model file (.yaml or .toml)")
	flags.String("dialect", "", "SQL dialect: generic-92, sqlite, postgresql or mysql")
	flags.String("server-version", "", "database server version, gates version-specific SQL")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	for key, flag := range map[string]string{
		"model_path":     "model",
		"dialect":        "dialect",
		"server_version": "server-version",
		"log_level":      "log-level",
		"log_format":     "log-format",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newSQLCommand(a),
		newExplainCommand(a),
		newRunCommand(a),
		newServeCommand(a),
		newInitCommand(a),
		newValidateCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute is the main entry point for the CLI
func Execute() error {
	return NewRootCommand().Execute()
}
