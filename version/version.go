// Package version reports the build identity of the capture binary: the
// "version" command-socket built-in (spec §6) and the command-line
// "--version" flag both read from here.
package version

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	ver "github.com/hashicorp/go-version"
	"golang.org/x/sys/unix"
)

var (
	// Set to the content of a VERSION file at link-time with -X.
	rawReleaseVersion = "0.0.0"

	releaseVersion = ver.Must(ver.NewSemver(strings.TrimSuffix(rawReleaseVersion, "\n")))

	// Set at link-time with -X.
	gitVersion = "unknown"
)

func ReleaseVersion() *ver.Version {
	return releaseVersion
}

// GitVersion is the git SHA this binary was built from.
func GitVersion() string {
	return gitVersion
}

// DisplayString is what the "version" command-socket built-in and
// "--version" print: release, git SHA, and a note when the binary's build
// arch differs from the arch it's actually running on (cross-built
// binaries, emulation).
func DisplayString() string {
	var utsname unix.Utsname
	_ = unix.Uname(&utsname)

	archMsg := runtime.GOARCH
	machineArch := string(bytes.Trim(utsname.Machine[:], "\x00"))
	if runtime.GOARCH != machineArch {
		archMsg = fmt.Sprintf("built for %s, running on %s", runtime.GOARCH, machineArch)
	}

	return fmt.Sprintf("%s (%s, %s)", releaseVersion.String(), gitVersion, archMsg)
}
