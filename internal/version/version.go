// Package version reports the build of gpgrun and of the gpg it drives.
package version

import (
	"bufio"
	"bytes"
	"fmt"
	"runtime"
	"strings"
)

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	// Engine is the version gpg reported, empty if it was not queried.
	Engine string `json:"engine,omitempty"`
}

// Get returns version and build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns the application version string.
func String() string {
	return Version
}

// Format renders info the way "gpgrun version" prints it.
func (i Info) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gpgrun %s (%s, built %s)\n", i.Version, i.GitCommit, i.BuildDate)
	fmt.Fprintf(&b, "%s %s\n", i.GoVersion, i.Platform)
	if i.Engine != "" {
		fmt.Fprintf(&b, "gpg %s\n", i.Engine)
	}
	return b.String()
}

// ParseEngineVersion extracts the version from the first line of
// "gpg --version" output, e.g. "gpg (GnuPG) 2.4.3".
func ParseEngineVersion(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	if !sc.Scan() {
		return ""
	}
	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
