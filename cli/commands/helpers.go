package commands

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/microtan/shaolinq/cli/internal/config"
	"github.com/microtan/shaolinq/internal/debug"
	"github.com/microtan/shaolinq/query"
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/compiler"
	"github.com/microtan/shaolinq/query/executor"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/sqlgen"
)

// drivers maps a database/sql driver name to the dialect it speaks.
var drivers = map[string]string{
	"sqlite":   sqlgen.SQLite, // modernc.org/sqlite
	"sqlite3":  sqlgen.SQLite, // github.com/mattn/go-sqlite3
	"postgres": sqlgen.PostgreSQL,
	"pgx":      sqlgen.PostgreSQL,
	"mysql":    sqlgen.MySQL,
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *app) loadModel() (*model.Model, error) {
	m, err := model.LoadFile(config.AppFs, a.cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.cfg.ModelPath, err)
	}
	return m, nil
}

func (a *app) engine(mw ...executor.Middleware) (*query.Engine, error) {
	m, err := a.loadModel()
	if err != nil {
		return nil, err
	}
	return query.New(m,
		query.WithDialect(a.cfg.Dialect, a.cfg.ServerVersion),
		query.WithStatementCacheSize(a.cfg.StmtCache),
		query.WithCompilerOptions(compiler.WithCacheSizes(a.cfg.ShapeCache, a.cfg.ShapeCache)),
		query.WithMiddleware(executor.LoggingMiddleware(debug.Logger())),
		query.WithMiddleware(mw...),
	)
}

// openDB opens the configured database. The dialect must match the driver.
func (a *app) openDB() (*sql.DB, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database configured: set database_url or DATABASE_URL")
	}
	want, ok := drivers[a.cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q, expected one of %s", a.cfg.Driver, strings.Join(driverNames(), ", "))
	}
	if a.cfg.Dialect != want {
		debug.Warn("dialect does not match driver", "dialect", a.cfg.Dialect, "driver", a.cfg.Driver, "expected", want)
	}
	db, err := sql.Open(a.cfg.Driver, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(a.cfg.Driver, "sqlite") {
		// in-memory sqlite databases are per connection
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// readChain takes the chain from the arguments, from file, or from stdin when the only
// argument is "-".
func readChain(args []string, file string, stdin io.Reader) (*query.Chain, error) {
	var text string
	switch {
	case file != "":
		data, err := afero.ReadFile(config.AppFs, file)
		if err != nil {
			return nil, err
		}
		text = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		text = string(data)
	case len(args) > 0:
		text = strings.Join(args, " ")
	default:
		return nil, fmt.Errorf("no chain given: pass it as an argument, with --file, or on stdin with -")
	}
	return query.ParseChain(strings.TrimSpace(text))
}

// tabulate lays a materialized value out as table rows. Sequences of entities or records
// become one row per element with a column per field; anything else is a single cell.
func tabulate(v any) ([]string, [][]string) {
	items, ok := v.([]any)
	if !ok {
		return []string{"value"}, [][]string{{cell(v)}}
	}

	var headers []string
	seen := map[string]bool{}
	fields := make([]map[string]any, len(items))
	for i, it := range items {
		switch x := it.(type) {
		case *executor.Entity:
			fields[i] = x.Fields
		case executor.Record:
			fields[i] = x
		default:
			fields[i] = map[string]any{"value": x}
		}
		keys := make([]string, 0, len(fields[i]))
		for k := range fields[i] {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			headers = append(headers, k)
		}
	}

	rows := make([][]string, len(items))
	for i, f := range fields {
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = cell(f[h])
		}
		rows[i] = row
	}
	return headers, rows
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case *executor.Entity:
		if len(x.Fields) == 0 {
			return x.Type
		}
		keys := make([]string, 0, len(x.Fields))
		for k := range x.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + cell(x.Fields[k])
		}
		return x.Type + "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(x)
	}
}

// isModification reports whether chain ends in a delete, update or insert.
func isModification(chain *query.Chain) bool {
	if len(chain.Ops) == 0 {
		return false
	}
	switch chain.Ops[len(chain.Ops)-1].Type() {
	case ast.OperatorDeleteWhere, ast.OperatorUpdate, ast.OperatorInsert:
		return true
	}
	return false
}

func stdin() io.Reader { return os.Stdin }
