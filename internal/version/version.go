// Package version reports the tabmux build version.
package version

import (
	"runtime/debug"
	"strings"
)

const defaultModule = "github.com/abdullathedruid/tabmux"

// GitSHA is set at build time:
// go build -ldflags "-X github.com/abdullathedruid/tabmux/internal/version.GitSHA=$(git rev-parse --short HEAD)"
var GitSHA = ""

// Short returns a short version string suitable for display.
func Short() string {
	if sha := strings.TrimSpace(GitSHA); sha != "" {
		return sha
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "dev"
}

// Module returns the main module path.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}
