package toolchain

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/xdg"
)

// ErrNoRecord means no version was ever recorded, or a previous install was
// interrupted before completing. It is a valid state, not a failure.
var ErrNoRecord = errors.New("no recorded toolchain version")

const versionFileMode = 0o600

// ReadRecordedVersion returns the last successfully installed version.
// A missing or empty record returns ErrNoRecord.
//
//nolint:gosec // G304: path comes from configuration, within the operator's home
func ReadRecordedVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoRecord
		}

		return "", errors.Wrap(err, "reading version record")
	}

	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", ErrNoRecord
	}

	return version, nil
}

// WriteRecordedVersion persists the version atomically: written to a sibling
// temp file and renamed, so the record is never partially written. Callers
// invoke this only after an install fully succeeds.
func WriteRecordedVersion(path, version string) error {
	if !IsValidVersion(version) {
		return errors.Newf("refusing to record malformed version %q", version)
	}

	dir := filepath.Dir(path)
	if err := xdg.EnsureDir(dir); err != nil {
		return err
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp")

	if err := os.WriteFile(tmpPath, []byte(version+"\n"), versionFileMode); err != nil {
		return errors.Wrap(err, "writing version record")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return errors.Wrap(err, "replacing version record")
	}

	return nil
}
