package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.Contains(t, info.Dialects, "postgresql")
	assert.Contains(t, info.String(), info.Platform)

	full := info.FullString()
	assert.Contains(t, full, "dialects: ")
	assert.Contains(t, full, "sqlite")
}
