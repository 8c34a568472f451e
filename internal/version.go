package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of roomchat
// This should be updated with each release
const Version = "0.3.0"

// Platform names the OS/arch pair the binary was built for.
func Platform() string {
	arch := runtime.GOARCH
	if arch == "aarch64" {
		arch = "arm64"
	}
	switch runtime.GOOS {
	case "darwin":
		return "macos-" + arch
	default:
		return runtime.GOOS + "-" + arch
	}
}

// VersionString is what `roomchat version` prints.
func VersionString() string {
	return fmt.Sprintf("roomchat v%s (%s, %s)", Version, Platform(), runtime.Version())
}
