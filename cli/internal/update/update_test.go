package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proxy(t *testing.T, body string, status int) *Checker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+ModulePath+"/@latest", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &Checker{Proxy: srv.URL, Client: srv.Client()}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		latest    string
		available bool
	}{
		{"older", "0.1.0", "v0.2.0", true},
		{"same", "v0.2.0", "v0.2.0", false},
		{"newer", "0.3.0", "v0.2.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := proxy(t, `{"Version":"`+tt.latest+`","Time":"2026-01-01T00:00:00Z"}`, http.StatusOK)
			s, err := c.Check(context.Background(), tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.latest, s.Latest)
			assert.Equal(t, tt.available, s.Available)
		})
	}
}

func TestCheckErrors(t *testing.T) {
	_, err := proxy(t, "", http.StatusNotFound).Check(context.Background(), "0.1.0")
	assert.ErrorContains(t, err, "404")

	_, err = proxy(t, `{"Version":"v0.2.0"}`, http.StatusOK).Check(context.Background(), "dev")
	assert.ErrorContains(t, err, "invalid version format")

	_, err = proxy(t, `not json`, http.StatusOK).Check(context.Background(), "0.1.0")
	assert.Error(t, err)
}

func TestInstallCommand(t *testing.T) {
	s := &Status{Latest: "v0.2.0"}
	assert.Equal(t, "go install github.com/microtan/shaolinq/cli@v0.2.0", s.InstallCommand())
}
