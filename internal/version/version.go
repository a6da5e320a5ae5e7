package version

import (
	"runtime/debug"
	"strings"
)

// Version is the build version. Set via -ldflags for releases; development
// builds fall back to the VCS revision embedded by the Go toolchain.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	Version = fromVCS()
}

func fromVCS() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}

	var sb strings.Builder
	sb.WriteString("dev-")
	sb.WriteString(revision)
	if modified {
		sb.WriteString("-dirty")
	}
	return sb.String()
}
