// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package version

import (
	"bytes"
	"fmt"
	"time"

	goversion "github.com/hashicorp/go-version"
)

var (
	// BuildDate is the time of the git commit used to build the program,
	// in RFC3339 format. It is filled in by the linker.
	BuildDate string

	// The git commit that was compiled. This will be filled in by the linker.
	GitCommit   string
	GitDescribe string

	// The main version number of the suite.
	Version = "0.1.0"

	// A pre-release marker for the version, such as "dev" or "rc1". Empty
	// for a final release.
	VersionPrerelease = "dev"
)

// VersionInfo describes the running build of the suite.
type VersionInfo struct {
	BuildDate         time.Time
	Revision          string
	Version           string
	VersionPrerelease string
}

func GetVersion() *VersionInfo {
	ver := Version
	rel := VersionPrerelease
	if GitDescribe != "" {
		ver, rel = parseDescribe(GitDescribe)
	}

	// on parse error, will be zero value time.Time{}
	built, _ := time.Parse(time.RFC3339, BuildDate)

	return &VersionInfo{
		BuildDate:         built,
		Revision:          GitCommit,
		Version:           ver,
		VersionPrerelease: rel,
	}
}

// parseDescribe splits a git describe output such as "v0.2.0-rc1" into the
// version and pre-release. Output that is not a version is kept as is.
func parseDescribe(describe string) (string, string) {
	v, err := goversion.NewSemver(describe)
	if err != nil {
		return describe, ""
	}
	segments := v.Segments()
	for len(segments) < 3 {
		segments = append(segments, 0)
	}
	return fmt.Sprintf("%d.%d.%d", segments[0], segments[1], segments[2]), v.Prerelease()
}

func (c *VersionInfo) VersionNumber() string {
	if c.VersionPrerelease != "" {
		return fmt.Sprintf("%s-%s", c.Version, c.VersionPrerelease)
	}
	return c.Version
}

func (c *VersionInfo) FullVersionNumber(rev bool) string {
	var versionString bytes.Buffer

	fmt.Fprintf(&versionString, "snoop v%s", c.VersionNumber())
	if !c.BuildDate.IsZero() {
		fmt.Fprintf(&versionString, "\nBuildDate %s", c.BuildDate.Format(time.RFC3339))
	}
	if rev && c.Revision != "" {
		fmt.Fprintf(&versionString, "\nRevision %s", c.Revision)
	}
	return versionString.String()
}
