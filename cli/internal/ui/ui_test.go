package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestBreakClauses(t *testing.T) {
	got := breakClauses(`SELECT T0."Name" FROM "Person" AS T0 WHERE (T0."Age" > ?) ORDER BY T0."Name" LIMIT 10`)
	assert.Equal(t, "SELECT T0.\"Name\"\nFROM \"Person\" AS T0\nWHERE (T0.\"Age\" > ?)\nORDER BY T0.\"Name\"\nLIMIT 10", got)
}

func TestHighlightSQL(t *testing.T) {
	old := color.NoColor
	t.Cleanup(func() { color.NoColor = old })

	color.NoColor = true
	assert.Equal(t, "SELECT 1", HighlightSQL("SELECT 1"))

	color.NoColor = false
	out := HighlightSQL(`SELECT "Selection" FROM t`)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, `"Selection"`)
}

func TestPrintSQL(t *testing.T) {
	old, oldColor := Out, color.NoColor
	t.Cleanup(func() { Out, color.NoColor = old, oldColor })
	color.NoColor = true

	var buf bytes.Buffer
	Out = &buf
	PrintSQL("SELECT 1 FROM t")
	assert.Equal(t, "SELECT 1\nFROM t\n", buf.String())
}
