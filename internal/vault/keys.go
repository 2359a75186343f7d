package vault

import (
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
)

// ListKeys returns the private-key file names in dir, sorted. A file counts as
// a private key when it matches any include glob and no exclude glob. The
// credential directory is flat, so only direct entries are considered.
func ListKeys(dir string, includeGlobs, excludeGlobs []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading credential directory %s", dir)
	}

	var keys []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matched, matchErr := matchesAny(entry.Name(), includeGlobs)
		if matchErr != nil {
			return nil, matchErr
		}

		if !matched {
			continue
		}

		excluded, matchErr := matchesAny(entry.Name(), excludeGlobs)
		if matchErr != nil {
			return nil, matchErr
		}

		if excluded {
			continue
		}

		keys = append(keys, entry.Name())
	}

	sort.Strings(keys)

	return keys, nil
}

func matchesAny(name string, globs []string) (bool, error) {
	for _, glob := range globs {
		matched, err := doublestar.Match(glob, name)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern %q", glob)
		}

		if matched {
			return true, nil
		}
	}

	return false, nil
}
