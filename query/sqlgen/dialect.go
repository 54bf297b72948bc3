package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/microtan/shaolinq/query/plan"
)

// Dialect names.
const (
	Generic    = "generic-92"
	SQLite     = "sqlite"
	PostgreSQL = "postgresql"
	MySQL      = "mysql"
)

// Feature is an optional capability of a dialect.
type Feature string

const (
	FeatureInsertReturning       Feature = "insert-returning"
	FeatureInlineForeignKeys     Feature = "inline-foreign-keys"
	FeatureRowLocking            Feature = "row-locking"
	FeatureDeferrableConstraints Feature = "deferrable-constraints"
	FeatureLateralJoins          Feature = "lateral-joins"
	FeatureFullOuterJoins        Feature = "full-outer-joins"
	FeatureRightJoins            Feature = "right-joins"
)

// Dialect holds the rendering rules of one SQL flavour.
type Dialect struct {
	Name string

	openQuote, closeQuote string
	// numbered placeholders ($1, $2) instead of positional ?
	numbered bool
	// offsetFirst renders LIMIT skip,take; otherwise LIMIT take OFFSET skip
	offsetFirst bool
	// unbounded is the row count for a skip without a take in LIMIT skip,take form
	unbounded     string
	trueLiteral   string
	falseLiteral  string
	concatOp      string
	functions     map[plan.Function]FunctionRule
	features      map[Feature]string
	serverVersion *version.Version
}

// always marks a feature available in every version.
const always = "0"

var dialects = map[string]*Dialect{
	Generic: {
		Name:         Generic,
		openQuote:    `"`,
		closeQuote:   `"`,
		offsetFirst:  true,
		unbounded:    "-1",
		trueLiteral:  "TRUE",
		falseLiteral: "FALSE",
		concatOp:     "||",
		functions:    genericFunctions,
		features: map[Feature]string{
			FeatureRowLocking:            always,
			FeatureDeferrableConstraints: always,
			FeatureFullOuterJoins:        always,
			FeatureRightJoins:            always,
		},
	},
	SQLite: {
		Name:         SQLite,
		openQuote:    `"`,
		closeQuote:   `"`,
		offsetFirst:  true,
		unbounded:    "-1",
		trueLiteral:  "1",
		falseLiteral: "0",
		concatOp:     "||",
		functions:    sqliteFunctions,
		features: map[Feature]string{
			FeatureInsertReturning:       "3.35.0",
			FeatureInlineForeignKeys:     always,
			FeatureDeferrableConstraints: always,
			FeatureFullOuterJoins:        "3.39.0",
			FeatureRightJoins:            "3.39.0",
		},
	},
	PostgreSQL: {
		Name:         PostgreSQL,
		openQuote:    `"`,
		closeQuote:   `"`,
		numbered:     true,
		trueLiteral:  "TRUE",
		falseLiteral: "FALSE",
		concatOp:     "||",
		functions:    postgresFunctions,
		features: map[Feature]string{
			FeatureInsertReturning:       always,
			FeatureInlineForeignKeys:     always,
			FeatureRowLocking:            always,
			FeatureDeferrableConstraints: always,
			FeatureLateralJoins:          "9.3",
			FeatureFullOuterJoins:        always,
			FeatureRightJoins:            always,
		},
	},
	MySQL: {
		Name:         MySQL,
		openQuote:    "`",
		closeQuote:   "`",
		offsetFirst:  true,
		unbounded:    "18446744073709551615",
		trueLiteral:  "TRUE",
		falseLiteral: "FALSE",
		functions:    mysqlFunctions,
		features: map[Feature]string{
			FeatureRowLocking:   always,
			FeatureLateralJoins: "8.0.14",
			FeatureRightJoins:   always,
		},
	},
}

// Lookup returns the named dialect. "postgres" is accepted for postgresql.
func Lookup(name string) (*Dialect, error) {
	if name == "postgres" {
		name = PostgreSQL
	}
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// MustLookup is Lookup for dialect names known to be valid.
func MustLookup(name string) *Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names lists the registered dialects.
func Names() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WithVersion returns a copy of d whose feature gates honour the given server version.
func (d *Dialect) WithVersion(v string) (*Dialect, error) {
	if v == "" {
		return d, nil
	}
	parsed, err := version.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s server version: %w", d.Name, err)
	}
	c := *d
	c.serverVersion = parsed
	return &c, nil
}

// Key identifies the dialect and its server version.
func (d *Dialect) Key() string {
	if d.serverVersion == nil {
		return d.Name
	}
	return d.Name + "@" + d.serverVersion.String()
}

// Supports reports whether the dialect (at its configured server version, if any) has f.
func (d *Dialect) Supports(f Feature) bool {
	since, ok := d.features[f]
	if !ok {
		return false
	}
	if d.serverVersion == nil || since == always {
		return true
	}
	return !d.serverVersion.LessThan(version.Must(version.NewVersion(since)))
}

// Quote quotes an identifier.
func (d *Dialect) Quote(name string) string {
	escaped := strings.ReplaceAll(name, d.closeQuote, d.closeQuote+d.closeQuote)
	return d.openQuote + escaped + d.closeQuote
}

// Placeholder renders the n-th (1-based) parameter marker.
func (d *Dialect) Placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// BoolLiteral renders a boolean value.
func (d *Dialect) BoolLiteral(b bool) string {
	if b {
		return d.trueLiteral
	}
	return d.falseLiteral
}

// limit renders the row limiting clause from literal counts; empty strings are absent.
func (d *Dialect) limit(skip, take string) string {
	if skip == "" && take == "" {
		return ""
	}
	if d.offsetFirst {
		if skip == "" {
			skip = "0"
		}
		if take == "" {
			take = d.unbounded
		}
		return fmt.Sprintf("LIMIT %s,%s", skip, take)
	}
	var parts []string
	if take != "" {
		parts = append(parts, "LIMIT "+take)
	}
	if skip != "" {
		parts = append(parts, "OFFSET "+skip)
	}
	return strings.Join(parts, " ")
}
