// Package buildinfo describes the build of the dexplain binary.
package buildinfo

import "fmt"

// BuildInfo holds the version metadata injected at link time.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String renders the build info for the version flag and the startup log.
func (i BuildInfo) String() string {
	return fmt.Sprintf("%s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
