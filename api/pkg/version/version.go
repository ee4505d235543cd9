// Package version holds build-time version information.
package version

// Set at build time with -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func String() string {
	return Version + " (" + GitCommit + ")"
}
