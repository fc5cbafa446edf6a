package version

import "fmt"

// Version and Commit are set by ldflags during build:
//
//	go build -ldflags "-X github.com/ZerkerEOD/permfarm/internal/version.Version=1.2.0"
var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns the current client version
func GetVersion() string {
	return Version
}

// String returns the version with the commit, if known, for -version output.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("permclient %s", Version)
	}
	return fmt.Sprintf("permclient %s (%s)", Version, Commit)
}
