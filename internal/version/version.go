// Package version хранит данные сборки storefront.
package version

import (
	"fmt"
	"runtime/debug"
)

// Заполняются при сборке:
// go build -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.2.0 ..."
var (
	version = "dev"
	commit  = ""
	date    = "unknown"
)

// Build — данные сборки для логов, /healthz и флага -version.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает данные сборки. Если commit не передан через ldflags,
// берётся vcs.revision из debug.BuildInfo.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if b.Commit == "" {
		b.Commit = vcsRevision()
	}
	return b
}

// Version возвращает версию сборки.
func Version() string { return version }

// String — однострочное описание для -version.
func String() string {
	b := Current()
	return fmt.Sprintf("storefront %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}

// Fields — поля для структурного лога.
func (b Build) Fields() map[string]any {
	return map[string]any{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}
