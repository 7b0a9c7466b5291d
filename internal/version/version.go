// Package version provides build and version information for the simulator.
package version

// Version is the current release version.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/sedsim/sedsim/internal/version.Version=x.y.z"
var Version = "1.0.0"
