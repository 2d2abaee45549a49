// Package version carries build identification, stamped in via -ldflags.
package version

var (
	// Version is the release identifier, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
)
