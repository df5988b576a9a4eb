package app

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

var readBuildInfo = debug.ReadBuildInfo

// BuildVersion prefers the ldflags value and falls back to the module
// version recorded by `go install`.
func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version != "" && version != "dev" {
		return version
	}
	if info, ok := readBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}

	return "dev"
}

func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format("2006-01-02")
	}

	if len(raw) >= len("2006-01-02") {
		date := raw[:len("2006-01-02")]
		if _, err := time.Parse("2006-01-02", date); err == nil {
			return date
		}
	}

	return raw
}

func BuildVersionWithDate() string {
	version := BuildVersion()
	if buildDate := BuildDateYMD(); buildDate != "" {
		return fmt.Sprintf("%s (%s)", version, buildDate)
	}

	return version
}
