// Package version reports the build information of the shaolinq binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/microtan/shaolinq/query/sqlgen"
)

// Set at link time with -ldflags "-X".
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string
	BuildDate string
	GitCommit string
	GoVersion string
	Platform  string
	Dialects  []string
}

// Get returns the build information. Values missing from the link flags are taken from the
// module build info when the toolchain recorded it.
func Get() Info {
	info := Info{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dialects:  sqlgen.Names(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == "unknown":
			info.GitCommit = s.Value
		case s.Key == "vcs.time" && info.BuildDate == "unknown":
			info.BuildDate = s.Value
		}
	}
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("shaolinq %s (%s %s)", i.Version, i.Platform, i.GoVersion)
}

// FullString lists every field, one per line.
func (i Info) FullString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "shaolinq %s\n", i.Version)
	fmt.Fprintf(&b, "  commit:   %s\n", i.GitCommit)
	fmt.Fprintf(&b, "  built:    %s\n", i.BuildDate)
	fmt.Fprintf(&b, "  go:       %s %s\n", i.GoVersion, i.Platform)
	fmt.Fprintf(&b, "  dialects: %s", strings.Join(i.Dialects, ", "))
	return b.String()
}
