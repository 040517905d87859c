package version

// Version is the current version of crewsync.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/theautomat/crewsync/internal/version.Version=v1.0.0'"
var Version = "dev"
