// Package version carries build identification stamped in via -ldflags -X.
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
