// Package update checks whether a newer shaolinq release has been published.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
)

// ModulePath is the module the release check looks up.
const ModulePath = "github.com/microtan/shaolinq"

// DefaultProxy is the module proxy queried for the latest release.
const DefaultProxy = "https://proxy.golang.org"

// Checker looks up the latest release on a Go module proxy.
type Checker struct {
	Proxy  string
	Client *http.Client
}

// NewChecker returns a Checker against DefaultProxy with a short timeout.
func NewChecker() *Checker {
	return &Checker{Proxy: DefaultProxy, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Status is the outcome of a release check.
type Status struct {
	Current   string
	Latest    string
	Available bool
}

// InstallCommand is the command that installs the latest release.
func (s *Status) InstallCommand() string {
	return "go install " + ModulePath + "/cli@" + s.Latest
}

// Latest returns the newest version the proxy knows about.
func (c *Checker) Latest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Proxy+"/"+ModulePath+"/@latest", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach module proxy: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("module proxy returned %s", resp.Status)
	}
	var info struct {
		Version string `json:"Version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode module proxy response: %w", err)
	}
	return info.Version, nil
}

// Check compares current with the latest published release.
func (c *Checker) Check(ctx context.Context, current string) (*Status, error) {
	cur, err := version.NewVersion(current)
	if err != nil {
		return nil, fmt.Errorf("invalid version format: %w", err)
	}
	latestStr, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := version.NewVersion(latestStr)
	if err != nil {
		return nil, fmt.Errorf("invalid latest version format: %w", err)
	}
	return &Status{Current: current, Latest: latestStr, Available: cur.LessThan(latest)}, nil
}
