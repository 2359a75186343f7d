package toolchain

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const stagingSuffix = ".staging"

// RemoveStaging deletes a stale staging directory left by an interrupted run.
// Safe no-op when nothing exists. The install directory itself is left alone:
// it is replaced by the staged swap only after a complete extraction, so a
// previous good install survives a failed update.
func RemoveStaging(installDir string) error {
	if err := os.RemoveAll(installDir + stagingSuffix); err != nil {
		return errors.Wrap(err, "removing stale staging directory")
	}

	return nil
}

// RemoveExisting deletes the install directory and any stale staging
// directory. Safe no-op when nothing exists. Used when the existing tree is
// known bad (failed verification) and must not be trusted.
func RemoveExisting(installDir string) error {
	if err := RemoveStaging(installDir); err != nil {
		return err
	}

	if err := os.RemoveAll(installDir); err != nil {
		return errors.Wrap(err, "removing install directory")
	}

	return nil
}

// extractArchive unpacks a toolchain tar.gz into destDir, stripping the
// archive's single top-level directory so destDir itself becomes the
// toolchain root (destDir/bin/go).
//
//nolint:gosec // G304: archivePath is a temp file we just downloaded
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "opening archive")
	}
	defer f.Close() //nolint:errcheck // read-only file

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "creating gzip reader")
	}
	defer gz.Close() //nolint:errcheck // read-only decompressor

	tr := tar.NewReader(gz)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}

		name := stripFirstComponent(header.Name)
		if name == "" {
			continue
		}

		dest, pathErr := safePath(destDir, name)
		if pathErr != nil {
			return pathErr
		}

		if extractErr := extractEntry(dest, header, tr); extractErr != nil {
			return extractErr
		}
	}

	return nil
}

// extractEntry writes a single tar entry to dest.
func extractEntry(dest string, header *tar.Header, tr *tar.Reader) error {
	mode := header.FileInfo().Mode().Perm()

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(dest, mode); err != nil {
			return errors.Wrapf(err, "creating directory %s", dest)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errors.Wrapf(err, "creating parent of %s", dest)
		}

		if err := writeEntryFile(dest, mode, tr); err != nil {
			return err
		}
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errors.Wrapf(err, "creating parent of %s", dest)
		}

		// Links inside the toolchain tree are relative; reject absolute
		// targets rather than following them out of the install dir.
		if filepath.IsAbs(header.Linkname) {
			return errors.Errorf("refusing absolute symlink %s -> %s", dest, header.Linkname)
		}

		if err := os.Symlink(header.Linkname, dest); err != nil {
			return errors.Wrapf(err, "creating symlink %s", dest)
		}
	default:
		// Toolchain archives carry only dirs, files, and symlinks.
	}

	return nil
}

// writeEntryFile writes regular file contents from the tar stream.
//
//nolint:gosec // G304/G110: dest is within the staging dir, source is the release archive
func writeEntryFile(dest string, mode os.FileMode, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}

	_, copyErr := io.Copy(out, r)

	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		return errors.Wrapf(closeErr, "closing %s", dest)
	}

	if copyErr != nil {
		return errors.Wrapf(copyErr, "extracting %s", dest)
	}

	return nil
}

// stripFirstComponent drops the archive's top-level directory ("go/bin/go"
// becomes "bin/go"). Returns "" for the top-level directory itself.
func stripFirstComponent(name string) string {
	name = strings.TrimPrefix(name, "./")

	_, rest, found := strings.Cut(name, "/")
	if !found {
		return ""
	}

	return rest
}

// safePath validates that name resolves to a path within baseDir, preventing
// path traversal from crafted archive entries.
func safePath(baseDir, name string) (string, error) {
	dest := filepath.Join(baseDir, name)

	cleanBase := filepath.Clean(baseDir) + string(os.PathSeparator)
	cleanDest := filepath.Clean(dest)

	if !strings.HasPrefix(cleanDest, cleanBase) {
		return "", errors.Errorf("path traversal attempt: %q escapes %q", name, baseDir)
	}

	return cleanDest, nil
}
