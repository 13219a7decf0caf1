package bfio

import (
	"runtime"
	"runtime/debug"

	"github.com/simonhull/bfio/internal/legacy"
)

// Version is the semantic version of the bfio library.
const Version = "0.1.0"

// VersionInfo reports the library, toolchain and converter in use.
type VersionInfo struct {
	Version string
	// Revision is the VCS revision stamped into the binary, if any.
	Revision  string
	GoVersion string
	// BridgeVersion is the legacy converter's reader version, empty until
	// AcquireBridge succeeds.
	BridgeVersion string
}

// GetVersionInfo returns the versions that bear on how files are read.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{Version: Version, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	if b := legacy.Current(); b != nil {
		info.BridgeVersion = b.Version()
	}
	return info
}
