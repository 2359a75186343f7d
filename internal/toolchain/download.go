package toolchain

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"github.com/mkrol/sbckit/pkg/logger"
)

// DefaultMinArchiveBytes is the smallest plausible toolchain archive. Anything
// below this is a truncated or failed transfer, not a release.
const DefaultMinArchiveBytes = 25 * 1024 * 1024

// ProgressFunc is called during download with bytes received and total bytes.
// Total may be -1 if the server doesn't send Content-Length.
type ProgressFunc func(received, total int64)

// Downloader handles HTTP downloads.
type Downloader struct {
	client *http.Client

	// MinArchiveBytes rejects undersized archive downloads.
	MinArchiveBytes int64
}

// NewDownloader creates a new Downloader with the given HTTP client.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}

	return &Downloader{
		client:          client,
		MinArchiveBytes: DefaultMinArchiveBytes,
	}
}

// FetchArchive downloads an archive to destPath, preferring primaryURL and
// falling back to mirrorURL. Undersized downloads are rejected as truncated
// and the next transport tried. A partial file never survives a failure.
func (d *Downloader) FetchArchive(
	ctx context.Context,
	primaryURL, mirrorURL, destPath string,
	progress ProgressFunc,
	log logger.Logger,
) error {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	primaryErr := d.fetchAndCheck(ctx, primaryURL, destPath, progress)
	if primaryErr == nil {
		return nil
	}

	log.Info("primary download failed, trying mirror",
		"url", primaryURL,
		"error", primaryErr,
	)

	if mirrorErr := d.fetchAndCheck(ctx, mirrorURL, destPath, progress); mirrorErr != nil {
		return errors.Wrapf(mirrorErr, "download failed on both transports (primary: %v)", primaryErr)
	}

	return nil
}

// fetchAndCheck downloads one URL and validates the resulting file size.
func (d *Downloader) fetchAndCheck(
	ctx context.Context,
	url, destPath string,
	progress ProgressFunc,
) error {
	if err := d.DownloadToFile(ctx, url, destPath, progress); err != nil {
		_ = os.Remove(destPath)

		return err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return errors.Wrap(err, "stat downloaded archive")
	}

	if info.Size() < d.MinArchiveBytes {
		_ = os.Remove(destPath)

		return errors.Errorf(
			"downloaded archive is %s, below the %s sanity threshold (truncated transfer?)",
			humanize.Bytes(uint64(info.Size())),
			humanize.Bytes(uint64(d.MinArchiveBytes)),
		)
	}

	return nil
}

// DownloadToFile downloads a URL to a local file path.
//
//nolint:gosec // G304: URL and destPath are constructed internally by the installer
func (d *Downloader) DownloadToFile(
	ctx context.Context,
	url, destPath string,
	progress ProgressFunc,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "downloading file")
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on response body

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "creating destination file")
	}

	var reader io.Reader = resp.Body

	if progress != nil {
		reader = &progressReader{
			reader:   resp.Body,
			total:    resp.ContentLength,
			callback: progress,
		}
	}

	if _, copyErr := io.Copy(out, reader); copyErr != nil {
		_ = out.Close()

		return errors.Wrap(copyErr, "writing download to file")
	}

	return out.Close()
}

// DownloadToString downloads a URL and returns the body as a string.
func (d *Downloader) DownloadToString(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "creating request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "downloading content")
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on response body

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading response body")
	}

	return string(data), nil
}

// progressReader wraps an io.Reader and reports progress.
type progressReader struct {
	reader   io.Reader
	total    int64
	received int64
	callback ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.received += int64(n)

	if r.callback != nil {
		r.callback(r.received, r.total)
	}

	return n, err
}
