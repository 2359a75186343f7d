// Package toolchain implements the version-convergence installer for the Go
// toolchain: resolve the latest release, compare against the locally recorded
// version, and converge the install directory to a verified state.
package toolchain

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/exec"
)

var (
	// ErrUnsupportedArch is returned for CPU architectures without an
	// upstream toolchain build.
	ErrUnsupportedArch = errors.New("unsupported CPU architecture")

	// ErrUnsupportedOS is returned for operating systems without an
	// upstream toolchain build.
	ErrUnsupportedOS = errors.New("unsupported operating system")
)

// Platform represents the target OS and toolchain architecture.
type Platform struct {
	OS   string
	Arch string
}

// GoArch maps a machine architecture string (as reported by uname -m) to the
// upstream download architecture. 32-bit ARMv7 deliberately maps to the ARMv6
// build for backward compatibility; there is no dedicated ARMv7 build.
func GoArch(machine string) (string, error) {
	switch machine {
	case "x86_64":
		return "amd64", nil
	case "aarch64", "arm64":
		return "arm64", nil
	case "armv7l", "armv6l":
		return "armv6l", nil
	}

	if strings.HasPrefix(machine, "arm") {
		return "armv6l", nil
	}

	return "", errors.Wrapf(ErrUnsupportedArch, "%q", machine)
}

// DetectPlatform determines the platform for the current host. The machine
// architecture is read via uname -m through the exec seam; when that fails the
// compiled-in architecture is used instead.
func DetectPlatform(ctx context.Context, runner exec.CommandRunner) (Platform, error) {
	osName := runtime.GOOS
	if osName != "linux" && osName != "darwin" {
		return Platform{}, errors.Wrapf(ErrUnsupportedOS, "%q", osName)
	}

	machine := ""
	if runner != nil && exec.NewToolChecker().IsAvailable("uname") {
		if result := runner.Run(ctx, "uname", "-m"); result.Success() {
			machine = strings.TrimSpace(result.Stdout)
		}
	}

	if machine == "" {
		machine = runtimeMachine()
	}

	arch, err := GoArch(machine)
	if err != nil {
		return Platform{}, err
	}

	return Platform{OS: osName, Arch: arch}, nil
}

// runtimeMachine maps runtime.GOARCH back to a uname-style machine string.
func runtimeMachine() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv6l"
	default:
		return runtime.GOARCH
	}
}

// ArchiveName returns the upstream archive name for a version on this
// platform, e.g. "go1.24.4.linux-arm64.tar.gz". Version carries the "go"
// prefix.
func (p Platform) ArchiveName(version string) string {
	return fmt.Sprintf("%s.%s-%s.tar.gz", version, p.OS, p.Arch)
}

const (
	primaryDownloadBase = "https://go.dev/dl/"
	mirrorDownloadBase  = "https://dl.google.com/go/"
)

// PrimaryDownloadURL returns the preferred download URL for an archive.
func PrimaryDownloadURL(archiveName string) string {
	return primaryDownloadBase + archiveName
}

// MirrorDownloadURL returns the fallback download URL for an archive.
func MirrorDownloadURL(archiveName string) string {
	return mirrorDownloadBase + archiveName
}
