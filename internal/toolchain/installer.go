package toolchain

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/config"
	"github.com/mkrol/sbckit/internal/exec"
	"github.com/mkrol/sbckit/internal/xdg"
	"github.com/mkrol/sbckit/pkg/logger"
)

// Action describes what a converge run did.
type Action string

const (
	// ActionNone means the recorded version already matched the latest and
	// verification passed.
	ActionNone Action = "already-up-to-date"

	// ActionInstall means no version was recorded and a fresh install ran.
	ActionInstall Action = "install"

	// ActionUpdate means the recorded version differed and was replaced.
	ActionUpdate Action = "update"

	// ActionRepair means the recorded version matched but verification
	// failed, forcing a clean reinstall.
	ActionRepair Action = "repair"
)

// ConvergeResult contains the outcome of a converge run.
type ConvergeResult struct {
	Action          Action
	Version         string
	PreviousVersion string
}

// Installer converges the local toolchain to the latest available version.
type Installer struct {
	cfg        *config.ToolchainConfig
	platform   Platform
	resolver   VersionResolver
	downloader *Downloader
	runner     exec.CommandRunner
	log        logger.Logger
	progress   ProgressFunc

	primaryBase string
	mirrorBase  string
}

// Option configures an Installer.
type Option func(*Installer)

// WithResolver overrides the version resolver.
func WithResolver(r VersionResolver) Option {
	return func(i *Installer) { i.resolver = r }
}

// WithDownloader overrides the downloader.
func WithDownloader(d *Downloader) Option {
	return func(i *Installer) { i.downloader = d }
}

// WithRunner overrides the command runner.
func WithRunner(r exec.CommandRunner) Option {
	return func(i *Installer) { i.runner = r }
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// WithProgress sets the download progress callback.
func WithProgress(p ProgressFunc) Option {
	return func(i *Installer) { i.progress = p }
}

// WithDownloadBaseURLs overrides the archive download locations (for testing).
func WithDownloadBaseURLs(primary, mirror string) Option {
	return func(i *Installer) {
		i.primaryBase = primary
		i.mirrorBase = mirror
	}
}

// NewInstaller creates an Installer for the given platform.
func NewInstaller(cfg *config.ToolchainConfig, platform Platform, opts ...Option) *Installer {
	i := &Installer{
		cfg:         cfg,
		platform:    platform,
		log:         logger.NewNoOpLogger(),
		primaryBase: primaryDownloadBase,
		mirrorBase:  mirrorDownloadBase,
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.downloader == nil {
		i.downloader = NewDownloader(nil)
	}

	if i.resolver == nil {
		resolverOpts := []ResolverOption{}
		if cfg.FallbackVersion != "" {
			resolverOpts = append(resolverOpts, WithFallbackVersion(cfg.FallbackVersion))
		}

		i.resolver = NewResolver(i.downloader, i.log, resolverOpts...)
	}

	if i.runner == nil {
		i.runner = exec.NewCommandRunner(cfg.GetDownloadTimeout())
	}

	return i
}

// LatestVersion resolves the latest available version without mutating state.
func (i *Installer) LatestVersion(ctx context.Context) string {
	return i.resolver.Resolve(ctx)
}

// RecordedVersion reads the locally recorded version. ErrNoRecord means the
// toolchain was never fully installed.
func (i *Installer) RecordedVersion() (string, error) {
	return ReadRecordedVersion(i.cfg.VersionFile)
}

// Converge drives the full state machine:
//
//	no record            → install → configure → verify
//	record == latest     → configure → verify; verify failure → remove → install → configure → verify
//	record != latest     → remove → install → configure → verify
//
// Every failure leaves either the untouched previous state or the new fully
// verified state on disk, never a mix. With force set, a matching record is
// treated as stale.
func (i *Installer) Converge(ctx context.Context, force bool) (*ConvergeResult, error) {
	latest := i.resolver.Resolve(ctx)

	recorded, err := i.RecordedVersion()

	switch {
	case errors.Is(err, ErrNoRecord):
		i.log.Info("no recorded version, installing", "latest", latest)

		return i.installAndFinish(ctx, latest, "", ActionInstall)

	case err != nil:
		return nil, err

	case recorded == latest && !force:
		return i.convergeCurrent(ctx, latest)

	default:
		i.log.Info("recorded version differs, reinstalling",
			"recorded", recorded,
			"latest", latest,
			"direction", string(CompareVersions(recorded, latest)),
			"forced", force,
		)

		if removeErr := RemoveStaging(i.cfg.InstallDir); removeErr != nil {
			return nil, removeErr
		}

		return i.installAndFinish(ctx, latest, recorded, ActionUpdate)
	}
}

// convergeCurrent handles the record == latest path: configure and verify,
// falling back to a clean reinstall when verification fails.
func (i *Installer) convergeCurrent(ctx context.Context, latest string) (*ConvergeResult, error) {
	if err := i.configure(); err != nil {
		return nil, err
	}

	reported, verifyErr := i.verifier().Verify(ctx)
	if verifyErr == nil {
		i.log.Info("toolchain already up to date", "version", reported)

		return &ConvergeResult{
			Action:          ActionNone,
			Version:         reported,
			PreviousVersion: latest,
		}, nil
	}

	if errors.Is(verifyErr, ErrArchMismatch) {
		// A foreign-architecture binary on disk means the previous install
		// picked the wrong build. A reinstall for this platform repairs it.
		i.log.Error("installed binary is for a foreign architecture, reinstalling", "error", verifyErr)
	} else {
		i.log.Error("verification failed for recorded version, reinstalling", "error", verifyErr)
	}

	if err := RemoveExisting(i.cfg.InstallDir); err != nil {
		return nil, err
	}

	return i.installAndFinish(ctx, latest, latest, ActionRepair)
}

// installAndFinish runs install → configure → verify and assembles the result.
func (i *Installer) installAndFinish(
	ctx context.Context,
	version, previous string,
	action Action,
) (*ConvergeResult, error) {
	if err := i.fetchAndInstall(ctx, version); err != nil {
		return nil, err
	}

	if err := i.configure(); err != nil {
		return nil, err
	}

	reported, err := i.verifier().Verify(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "verifying fresh install")
	}

	i.log.Info("toolchain converged",
		"action", string(action),
		"version", reported,
	)

	return &ConvergeResult{
		Action:          action,
		Version:         reported,
		PreviousVersion: previous,
	}, nil
}

// fetchAndInstall downloads, validates, and extracts the given version, then
// persists the version record. The install directory is only replaced after a
// complete extraction into a staging directory: a failure at any step leaves
// the previous install and its record untouched.
func (i *Installer) fetchAndInstall(ctx context.Context, version string) error {
	archiveName := i.platform.ArchiveName(version)

	tmpFile, err := os.CreateTemp("", "sbckit-go-*.tar.gz")
	if err != nil {
		return errors.Wrap(err, "creating temp file for archive")
	}

	tmpPath := tmpFile.Name()

	if closeErr := tmpFile.Close(); closeErr != nil {
		return errors.Wrap(closeErr, "closing temp file")
	}

	defer func() { _ = os.Remove(tmpPath) }()

	i.log.Info("downloading toolchain archive", "archive", archiveName)

	if err := i.downloader.FetchArchive(
		ctx,
		i.primaryBase+archiveName,
		i.mirrorBase+archiveName,
		tmpPath,
		i.progress,
		i.log,
	); err != nil {
		return err
	}

	staging := i.cfg.InstallDir + stagingSuffix

	if err := os.RemoveAll(staging); err != nil {
		return errors.Wrap(err, "clearing staging directory")
	}

	if err := xdg.EnsureDir(filepath.Dir(i.cfg.InstallDir)); err != nil {
		return err
	}

	if err := extractArchive(tmpPath, staging); err != nil {
		_ = os.RemoveAll(staging)

		return errors.Wrap(err, "extracting archive")
	}

	if _, err := os.Stat(filepath.Join(staging, "bin", "go")); err != nil {
		_ = os.RemoveAll(staging)

		return errors.Wrap(err, "extracted tree is missing bin/go")
	}

	// Swap: the previous install survives until the new tree is complete.
	if err := os.RemoveAll(i.cfg.InstallDir); err != nil {
		_ = os.RemoveAll(staging)

		return errors.Wrap(err, "removing previous install")
	}

	if err := os.Rename(staging, i.cfg.InstallDir); err != nil {
		return errors.Wrap(err, "moving staging into place")
	}

	return WriteRecordedVersion(i.cfg.VersionFile, version)
}

// configure idempotently writes the env script and wires shell profiles.
func (i *Installer) configure() error {
	if err := WriteEnvScript(i.cfg.EnvScript, i.cfg.InstallDir); err != nil {
		return err
	}

	return EnsureProfileLines(i.cfg.Profiles, i.cfg.EnvScript, i.log)
}

func (i *Installer) verifier() *Verifier {
	return NewVerifier(i.cfg.InstallDir, i.platform, i.runner, i.log)
}
