package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/xdg"
	"github.com/mkrol/sbckit/pkg/logger"
)

// profileSentinel marks the sourcing block in shell profiles. Its presence
// means the profile is already wired and must not be patched again.
const profileSentinel = "# sbckit: go toolchain environment"

const (
	envScriptMode = 0o644
	profileMode   = 0o644
)

// WriteEnvScript writes the environment-export script for the toolchain.
// Rewrites only when the content changed, so reruns leave mtimes alone.
func WriteEnvScript(scriptPath, installDir string) error {
	content := fmt.Sprintf(`# Managed by sbckit. Rewritten on every converge; do not edit.
export GOROOT=%q
export PATH="$GOROOT/bin:$PATH"
`, installDir)

	existing, err := os.ReadFile(scriptPath) //nolint:gosec // G304: path from configuration
	if err == nil && string(existing) == content {
		return nil
	}

	if err := xdg.EnsureDir(filepath.Dir(scriptPath)); err != nil {
		return err
	}

	if err := os.WriteFile(scriptPath, []byte(content), envScriptMode); err != nil {
		return errors.Wrap(err, "writing environment script")
	}

	return nil
}

// EnsureProfileLines appends a sourcing block to each profile that exists and
// doesn't already carry the sentinel. Missing profiles are skipped, never
// created. Reruns never duplicate the block.
func EnsureProfileLines(profiles []string, scriptPath string, log logger.Logger) error {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	block := fmt.Sprintf("\n%s\n[ -f %q ] && . %q\n", profileSentinel, scriptPath, scriptPath)

	for _, profile := range profiles {
		data, err := os.ReadFile(profile) //nolint:gosec // G304: profile list from configuration
		if err != nil {
			if os.IsNotExist(err) {
				log.Debug("shell profile absent, skipping", "profile", profile)

				continue
			}

			return errors.Wrapf(err, "reading %s", profile)
		}

		if strings.Contains(string(data), profileSentinel) {
			log.Debug("shell profile already wired", "profile", profile)

			continue
		}

		f, err := os.OpenFile(profile, os.O_WRONLY|os.O_APPEND, profileMode) //nolint:gosec // G304: see above
		if err != nil {
			return errors.Wrapf(err, "opening %s", profile)
		}

		_, writeErr := f.WriteString(block)

		if closeErr := f.Close(); closeErr != nil && writeErr == nil {
			writeErr = closeErr
		}

		if writeErr != nil {
			return errors.Wrapf(writeErr, "appending to %s", profile)
		}

		log.Info("wired shell profile", "profile", profile)
	}

	return nil
}
