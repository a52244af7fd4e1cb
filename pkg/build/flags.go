// SPDX-License-Identifier: MIT
//
// Package build provides functionality to manage and retrieve build information
// for a Go application. It allows embedding metadata such as the application
// name, build timestamp, Git commit hash, and semantic version into the binary
// at compile time using linker flags:
//
//	go build -ldflags "-X csi/pkg/build.buildName=csi -X csi/pkg/build.buildVersion=0.1.0 ..."
package build

import (
	"fmt"
	"strings"
)

// Description is the one-line summary shown by the CLI.
const Description = "Capture Wi-Fi channel state information and stream it to a console or UDP peer"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String renders the flags for the version command and startup log.
func (f *ldFlags) String() string {
	s := fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
	if f.Dev() {
		s += " [development build]"
	}
	return s
}

// Set by -ldflags at release time; development builds keep buildFlags as is.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "csi",
		Time:    "unknown",
		Commit:  "unknown",
		Version: DevVersion,
	}
)

// DevVersion marks a binary built without release ldflags.
const DevVersion = "dev"

// Dev reports whether the flags are the development defaults.
func (f *ldFlags) Dev() bool {
	return f.Version == DevVersion
}

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. Every missing flag is named in the error, and
// the development defaults stay in place.
func Initialize() error {
	required := []struct {
		flag  string
		value string
	}{
		{"buildName", buildName},
		{"buildTime", buildTime},
		{"buildCommit", buildCommit},
		{"buildVersion", buildVersion},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.flag)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("ldflags not set: %s", strings.Join(missing, ", "))
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
