package commands

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/microtan/shaolinq/cli/internal/config"
	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/cli/internal/update"
	"github.com/microtan/shaolinq/cli/internal/version"
	"github.com/microtan/shaolinq/query/executor"
)

const testModel = `
entities:
  - name: Person
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Name, type: string}
      - {name: Age, type: int}
`

// setup points the CLI at an in-memory filesystem holding model.yaml and captures output.
func setup(t *testing.T) (afero.Fs, *bytes.Buffer) {
	t.Helper()
	oldFs, oldOut, oldColor := config.AppFs, ui.Out, color.NoColor
	t.Cleanup(func() { config.AppFs, ui.Out, color.NoColor = oldFs, oldOut, oldColor })

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "model.yaml", []byte(testModel), 0644))
	config.AppFs = fs
	color.NoColor = true
	var out bytes.Buffer
	ui.Out = &out
	t.Setenv("DATABASE_URL", "")
	return fs, &out
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestSQLCommand(t *testing.T) {
	_, out := setup(t)

	require.NoError(t, execute(t, "sql", "--dialect", "sqlite", "Person.Where(p => p.Age > 18)"))
	assert.Contains(t, out.String(), `WHERE (T0."Age" > 18)`)

	out.Reset()
	require.NoError(t, execute(t, "sql", "--dialect", "postgresql", "--params", "Person.Where(p => p.Age > 18)"))
	assert.Contains(t, out.String(), `WHERE (T0."Age" > $1)`)
	assert.Contains(t, out.String(), "$1 = 18")
}

func TestSQLCommandReadsFile(t *testing.T) {
	fs, out := setup(t)
	require.NoError(t, afero.WriteFile(fs, "q.chain", []byte("Person.Count()\n"), 0644))

	require.NoError(t, execute(t, "sql", "--dialect", "mysql", "--file", "q.chain"))
	assert.Contains(t, out.String(), "COUNT(*)")
	assert.Contains(t, out.String(), "`Person`")
}

func TestSQLCommandErrors(t *testing.T) {
	setup(t)

	assert.Error(t, execute(t, "sql"))
	assert.Error(t, execute(t, "sql", "--dialect", "oracle", "Person"))
	assert.Error(t, execute(t, "sql", "--model", "missing.yaml", "Person"))
	assert.Error(t, execute(t, "sql", "--watch", "Person"))
}

func TestExplainCommand(t *testing.T) {
	_, out := setup(t)

	require.NoError(t, execute(t, "explain", "--dialect", "sqlite", "Person.Where(p => p.Age > 18).Take(2)"))
	assert.Contains(t, out.String(), "Optimized plan")
	assert.Contains(t, out.String(), "Table Person AS")
	assert.Contains(t, out.String(), "LIMIT")
}

func TestValidateCommand(t *testing.T) {
	_, out := setup(t)

	require.NoError(t, execute(t, "validate"))
	assert.Contains(t, out.String(), "Model is valid")
	assert.Contains(t, out.String(), "Person")
}

func TestRunCommand(t *testing.T) {
	_, out := setup(t)

	path := filepath.Join(t.TempDir(), "people.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE "Person" ("Id" INTEGER PRIMARY KEY, "Name" TEXT NOT NULL, "Age" INTEGER NOT NULL);
INSERT INTO "Person" VALUES (1, 'ann', 34), (2, 'bob', 17);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	t.Setenv("DATABASE_URL", path)

	require.NoError(t, execute(t, "run", "--dialect", "sqlite", "--json", "Person.Where(p => p.Age > 18).Select(p => p.Name)"))
	var names []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &names))
	assert.Equal(t, []string{"ann"}, names)

	out.Reset()
	require.NoError(t, execute(t, "run", "--dialect", "sqlite", "Person.DeleteWhere(p => p.Age < 18)"))
	assert.Contains(t, out.String(), "1 rows affected")
}

func TestRunCommandNeedsDatabase(t *testing.T) {
	setup(t)
	err := execute(t, "run", "Person")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database configured")
}

func TestWriteProject(t *testing.T) {
	fs, _ := setup(t)
	cfg := &config.Config{ModelPath: "schema/model.yaml", Dialect: "sqlite", Driver: "sqlite"}

	written, err := writeProject(fs, "app", cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("app", "schema", "model.yaml"), filepath.Join("app", ".shaolinq.yaml")}, written)

	data, err := afero.ReadFile(fs, filepath.Join("app", "schema", "model.yaml"))
	require.NoError(t, err)
	assert.Equal(t, sampleModel, string(data))

	written, err = writeProject(fs, "app", cfg)
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestTabulate(t *testing.T) {
	headers, rows := tabulate([]any{
		executor.Record{"Name": "ann", "Age": int64(34)},
		executor.Record{"Name": "bob", "Age": nil},
	})
	assert.Equal(t, []string{"Age", "Name"}, headers)
	assert.Equal(t, [][]string{{"34", "ann"}, {"NULL", "bob"}}, rows)

	headers, rows = tabulate(int64(3))
	assert.Equal(t, []string{"value"}, headers)
	assert.Equal(t, [][]string{{"3"}}, rows)

	_, rows = tabulate([]any{&executor.Entity{Type: "Person", Fields: map[string]any{"Id": int64(1)}}})
	assert.Equal(t, [][]string{{"1"}}, rows)
	assert.Equal(t, "Person{Id=1}", cell(&executor.Entity{Type: "Person", Fields: map[string]any{"Id": int64(1)}}))
}

func TestVersionCommand(t *testing.T) {
	setup(t)
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "dialects:")
}

func TestVersionCheck(t *testing.T) {
	_, out := setup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Version":"v0.9.0"}`))
	}))
	t.Cleanup(srv.Close)

	oldChecker, oldVersion := newChecker, version.Version
	t.Cleanup(func() { newChecker, version.Version = oldChecker, oldVersion })
	newChecker = func() *update.Checker { return &update.Checker{Proxy: srv.URL, Client: srv.Client()} }

	version.Version = "0.1.0"
	require.NoError(t, execute(t, "version", "--check"))
	assert.Contains(t, out.String(), "A new version is available: v0.9.0")

	out.Reset()
	version.Version = "0.9.0"
	require.NoError(t, execute(t, "version", "--check"))
	assert.Contains(t, out.String(), "up to date")
}
