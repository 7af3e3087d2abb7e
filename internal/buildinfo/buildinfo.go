// Package buildinfo exposes build metadata that is stamped in via ldflags
// at release time. The zero values are used for local development builds.
package buildinfo

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
