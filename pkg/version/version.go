// Package version reports the build version of the relay binaries.
//
// Release builds inject the values:
//
//	go build -ldflags "-X github.com/NicolasHaas/gorelay/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gorelay/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gorelay/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS revision recorded by the go tool is used.
package version

import "runtime/debug"

var (
	tag    = ""
	commit = ""
	date   = ""
)

func init() {
	if commit != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 7 {
				commit = s.Value[:7]
			} else {
				commit = s.Value
			}
		case "vcs.time":
			if date == "" {
				date = s.Value
			}
		}
	}
}

// String returns the tag, else the short commit, else "dev".
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "":
		return commit
	default:
		return "dev"
	}
}

// Full returns String plus commit and build date when known.
func Full() string {
	s := String()
	if tag != "" && commit != "" {
		s += " (" + commit + ")"
	}
	if date != "" {
		s += " built " + date
	}
	return s
}
