package commands

import (
	"fmt"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/config"
	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/query/sqlgen"
)

const sampleModel = `# Entity model. A property type is a scalar kind (int, float, string, bool, time, uuid)
# or the name of another entity, which is stored as that entity's key columns.
entities:
  - name: Person
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Name, type: string}
      - {name: Age, type: int}
      - {name: Address, type: Address, nullable: true}
  - name: Address
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: City, type: string}
`

func newInitCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a config file and a sample model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			cfg := &config.Config{ModelPath: "model.yaml", Dialect: sqlgen.SQLite, Driver: "sqlite"}
			if !yes {
				if err := askInit(cfg); err != nil {
					return err
				}
			}
			written, err := writeProject(config.AppFs, dir, cfg)
			if err != nil {
				return err
			}
			for _, f := range written {
				ui.PrintSuccess("Created %s", f)
			}
			if len(written) == 0 {
				ui.PrintWarning("Nothing to do, %s already has a config and a model", dir)
				return nil
			}
			ui.PrintSection("Next steps")
			ui.PrintList([]string{
				"Edit " + cfg.ModelPath + " to describe your entities",
				"Run: shaolinq validate",
				`Run: shaolinq sql "Person.Where(p => p.Age > 18)"`,
			})
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept the defaults without prompting")
	return cmd
}

func askInit(cfg *config.Config) error {
	questions := []*survey.Question{
		{
			Name:     "model",
			Prompt:   &survey.Input{Message: "Model file:", Default: cfg.ModelPath},
			Validate: survey.Required,
		},
		{
			Name:   "driver",
			Prompt: &survey.Select{Message: "Database driver:", Options: driverNames(), Default: cfg.Driver},
		},
		{
			Name:   "url",
			Prompt: &survey.Input{Message: "Database URL (leave empty to set DATABASE_URL later):"},
		},
	}
	answers := struct {
		Model  string `survey:"model"`
		Driver string `survey:"driver"`
		URL    string `survey:"url"`
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}
	cfg.ModelPath = answers.Model
	cfg.Driver = answers.Driver
	cfg.Dialect = drivers[answers.Driver]
	cfg.DatabaseURL = answers.URL

	if cfg.Dialect == sqlgen.PostgreSQL || cfg.Dialect == sqlgen.MySQL {
		return survey.AskOne(&survey.Input{
			Message: "Server version (optional, enables version-specific SQL):",
		}, &cfg.ServerVersion)
	}
	return nil
}

// writeProject writes the config and sample model into dir, skipping files that exist.
// It returns the files it created. The config is written through config.AppFs.
func writeProject(fs afero.Fs, dir string, cfg *config.Config) ([]string, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	var written []string

	modelPath := filepath.Join(dir, cfg.ModelPath)
	if ok, _ := afero.Exists(fs, modelPath); !ok {
		if err := fs.MkdirAll(filepath.Dir(modelPath), 0755); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(fs, modelPath, []byte(sampleModel), 0644); err != nil {
			return nil, fmt.Errorf("failed to write model: %w", err)
		}
		written = append(written, modelPath)
	}

	configPath := filepath.Join(dir, config.FileName+".yaml")
	if ok, _ := afero.Exists(fs, configPath); !ok {
		if err := config.SaveConfig(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to write config: %w", err)
		}
		written = append(written, configPath)
	}
	return written, nil
}
