// Package version holds build metadata injected at link time.
package version

import "runtime"

// Populated via -ldflags at build time, e.g.:
//
//	go build -ldflags "-X github.com/Davinchi1352/bukoai-sub001/version.GitRelease=v0.1.0"
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo reports the toolchain the binary was built with.
var GoInfo = runtime.Version()
