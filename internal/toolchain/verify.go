package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/exec"
	"github.com/mkrol/sbckit/pkg/logger"
)

// ErrArchMismatch means the installed binary was built for a different CPU
// architecture. Fatal: retrying won't help, the wrong build was downloaded.
var ErrArchMismatch = errors.New("installed binary does not match this CPU architecture")

const binaryMode = 0o755

// archMarkers are substrings file(1) prints for each supported architecture.
var archMarkers = map[string]string{
	"amd64":  "x86-64",
	"arm64":  "aarch64",
	"armv6l": "ARM",
}

// Verifier checks that an installed toolchain is functional.
type Verifier struct {
	installDir string
	platform   Platform
	runner     exec.CommandRunner
	log        logger.Logger
}

// NewVerifier creates a Verifier for the toolchain at installDir.
func NewVerifier(
	installDir string,
	platform Platform,
	runner exec.CommandRunner,
	log logger.Logger,
) *Verifier {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Verifier{
		installDir: installDir,
		platform:   platform,
		runner:     runner,
		log:        log,
	}
}

// BinaryPath returns the path of the toolchain's main binary.
func (v *Verifier) BinaryPath() string {
	return filepath.Join(v.installDir, "bin", "go")
}

// Verify executes the binary's self-report command and returns the version it
// reports. A failed execution is inspected with file(1): a foreign
// architecture is fatal, a lost exec bit is repaired and retried once.
func (v *Verifier) Verify(ctx context.Context) (string, error) {
	version, firstErr := v.runVersion(ctx)
	if firstErr == nil {
		return version, nil
	}

	if mismatchErr := v.checkArchitecture(ctx); mismatchErr != nil {
		return "", mismatchErr
	}

	v.log.Info("self-report failed, reapplying executable permission and retrying",
		"binary", v.BinaryPath(),
		"error", firstErr,
	)

	if chmodErr := os.Chmod(v.BinaryPath(), binaryMode); chmodErr != nil {
		return "", errors.Wrap(chmodErr, "restoring executable permission")
	}

	version, retryErr := v.runVersion(ctx)
	if retryErr != nil {
		return "", errors.Wrapf(retryErr, "verification failed after permission repair (first failure: %v)", firstErr)
	}

	return version, nil
}

// runVersion runs "<bin>/go version" and parses the reported version.
func (v *Verifier) runVersion(ctx context.Context) (string, error) {
	result := v.runner.Run(ctx, v.BinaryPath(), "version")
	if result.Failed() {
		return "", errors.Wrapf(result.Err, "running %s version: %s", v.BinaryPath(), strings.TrimSpace(result.Stderr))
	}

	// Output: "go version go1.24.4 linux/arm64"
	fields := strings.Fields(result.Stdout)
	if len(fields) < 3 || !IsValidVersion(fields[2]) {
		return "", errors.Errorf("unexpected self-report output %q", strings.TrimSpace(result.Stdout))
	}

	return fields[2], nil
}

// checkArchitecture inspects the binary with file(1) and returns
// ErrArchMismatch when it was built for a foreign architecture. Inconclusive
// inspection (file missing, non-ELF output) returns nil so the caller can try
// the permission repair path.
func (v *Verifier) checkArchitecture(ctx context.Context) error {
	result := v.runner.Run(ctx, "file", "-b", v.BinaryPath())
	if result.Failed() {
		return nil
	}

	out := strings.TrimSpace(result.Stdout)
	if !strings.Contains(out, "ELF") && !strings.Contains(out, "executable") {
		return nil
	}

	marker, ok := archMarkers[v.platform.Arch]
	if !ok {
		return nil
	}

	if !strings.Contains(out, marker) {
		return errors.Wrapf(ErrArchMismatch,
			"expected %s (%s) build, file(1) reports: %s",
			v.platform.Arch, marker, out,
		)
	}

	return nil
}
