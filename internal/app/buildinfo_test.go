package app

import (
	"runtime/debug"
	"testing"
)

func TestBuildVersion(t *testing.T) {
	original := Version
	originalRead := readBuildInfo
	t.Cleanup(func() {
		Version = original
		readBuildInfo = originalRead
	})
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "defaults to dev", in: "", want: "dev"},
		{name: "trims value", in: " 1.2.3 ", want: "1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version = tt.in
			if got := BuildVersion(); got != tt.want {
				t.Fatalf("BuildVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildVersionFallsBackToModuleVersion(t *testing.T) {
	originalVersion := Version
	originalRead := readBuildInfo
	t.Cleanup(func() {
		Version = originalVersion
		readBuildInfo = originalRead
	})

	Version = "dev"
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "v0.3.0"}}, true
	}
	if got := BuildVersion(); got != "v0.3.0" {
		t.Fatalf("BuildVersion() = %q, want v0.3.0", got)
	}

	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	}
	if got := BuildVersion(); got != "dev" {
		t.Fatalf("BuildVersion() = %q, want dev", got)
	}
}

func TestBuildDateYMD(t *testing.T) {
	original := BuildDate
	t.Cleanup(func() {
		BuildDate = original
	})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty stays empty", in: "", want: ""},
		{name: "rfc3339 formatted", in: "2026-01-30T14:55:03Z", want: "2026-01-30"},
		{name: "date only", in: "2026-01-30", want: "2026-01-30"},
		{name: "unknown format returns as is", in: "not-a-date", want: "not-a-date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			BuildDate = tt.in
			if got := BuildDateYMD(); got != tt.want {
				t.Fatalf("BuildDateYMD() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildVersionWithDate(t *testing.T) {
	originalVersion := Version
	originalBuildDate := BuildDate
	t.Cleanup(func() {
		Version = originalVersion
		BuildDate = originalBuildDate
	})

	Version = "0.1.2"
	BuildDate = "2026-01-30T14:55:03Z"
	if got := BuildVersionWithDate(); got != "0.1.2 (2026-01-30)" {
		t.Fatalf("BuildVersionWithDate() = %q", got)
	}
}
