// Package version exposes the build metadata stamped into the fstrace
// binary at link time.
package version

import (
	"fmt"
	"runtime"
)

// Overridden via -ldflags at release time. A plain source build
// reports "dev" at the host platform.
var (
	Release   = "dev"
	GitCommit = "unknown"
	GOOS      = runtime.GOOS
	GOARCH    = runtime.GOARCH
)

// Full returns the release with its commit hash.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform returns Full plus the target platform.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, GitCommit, GOOS, GOARCH)
}
