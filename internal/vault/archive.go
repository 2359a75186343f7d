package vault

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// packDir archives dir into a gzip-compressed tar stream. Entry names are
// relative to dir so the stream can be unpacked into any destination.
func packDir(dir string) ([]byte, error) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return errors.Wrapf(relErr, "relativizing %s", path)
		}

		if rel == "." {
			return nil
		}

		return packEntry(tw, path, filepath.ToSlash(rel), d)
	})
	if walkErr != nil {
		return nil, errors.Wrapf(walkErr, "archiving %s", dir)
	}

	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing tar stream")
	}

	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing gzip stream")
	}

	return buf.Bytes(), nil
}

func packEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return errors.Wrapf(err, "stating %s", path)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errors.Wrapf(err, "building tar header for %s", path)
	}

	header.Name = name
	if d.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return errors.Wrapf(err, "writing tar header for %s", name)
	}

	if d.IsDir() {
		return nil
	}

	f, err := os.Open(path) //nolint:gosec // G304: path comes from walking the source dir
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close() //nolint:errcheck // read-only file

	if _, err := io.Copy(tw, f); err != nil {
		return errors.Wrapf(err, "archiving %s", path)
	}

	return nil
}

// unpackDir extracts a gzip-compressed tar stream into dest, creating dest if
// needed. Entry paths escaping dest are rejected.
func unpackDir(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "creating gzip reader")
	}
	defer gz.Close() //nolint:errcheck // read-only decompressor

	if err := os.MkdirAll(dest, 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}

	tr := tar.NewReader(gz)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}

		target, pathErr := containedPath(dest, header.Name)
		if pathErr != nil {
			return pathErr
		}

		if err := unpackEntry(target, header, tr); err != nil {
			return err
		}
	}

	return nil
}

func unpackEntry(target string, header *tar.Header, tr *tar.Reader) error {
	mode := header.FileInfo().Mode().Perm()

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, mode); err != nil {
			return errors.Wrapf(err, "creating directory %s", target)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return errors.Wrapf(err, "creating parent of %s", target)
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode) //nolint:gosec // G304: target validated by containedPath
		if err != nil {
			return errors.Wrapf(err, "creating %s", target)
		}

		_, copyErr := io.Copy(out, tr) //nolint:gosec // G110: archive was produced by packDir

		if closeErr := out.Close(); closeErr != nil && copyErr == nil {
			return errors.Wrapf(closeErr, "closing %s", target)
		}

		if copyErr != nil {
			return errors.Wrapf(copyErr, "extracting %s", target)
		}
	default:
		// Credential directories hold only files and directories.
	}

	return nil
}

func containedPath(baseDir, name string) (string, error) {
	target := filepath.Join(baseDir, filepath.FromSlash(name))

	cleanBase := filepath.Clean(baseDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(target), cleanBase) {
		return "", errors.Errorf("archive entry %q escapes %q", name, baseDir)
	}

	return target, nil
}
