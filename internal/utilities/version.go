package utilities

// Version is the build version, set at link time.
var Version string

// BuildVersion returns a printable version string.
func BuildVersion() string {
	if Version == "" {
		return "unknown version"
	}
	return Version
}
