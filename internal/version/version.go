// Package version carries build metadata stamped in via -ldflags.
package version

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the stamped metadata for startup logging.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
