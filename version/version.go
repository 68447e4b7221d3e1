// Package version carries build metadata set with -ldflags.
package version

var (
	Version = "dev"
	Date    = "unknown"
)
