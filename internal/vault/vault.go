// Package vault backs up and restores an SSH credential directory as a
// single passphrase-encrypted archive.
package vault

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/config"
	"github.com/mkrol/sbckit/internal/prompt"
	"github.com/mkrol/sbckit/internal/xdg"
	"github.com/mkrol/sbckit/pkg/logger"
)

var (
	// ErrAborted is returned when the operator declines a destructive
	// confirmation. It signals a voluntary abort, not a failure.
	ErrAborted = errors.New("aborted by operator")

	// ErrNoCredentialDir is returned when the credential directory is absent.
	ErrNoCredentialDir = errors.New("credential directory does not exist")

	// ErrNoKeys is returned when the credential directory holds no private keys.
	ErrNoKeys = errors.New("no private keys found")

	// ErrNoArchive is returned when no backup archive exists.
	ErrNoArchive = errors.New("backup archive does not exist")
)

const (
	dirMode        = 0o700
	privateMode    = 0o600
	publicMode     = 0o644
	oldDirSuffix   = ".old"
	archiveTmpName = ".archive.tmp"
)

// Vault packages a credential directory into an encrypted archive and back.
type Vault struct {
	// cfg locates the credential directory and the archive.
	cfg *config.VaultConfig

	// prompter supplies confirmations and the passphrase. The core logic
	// never reads input itself.
	prompter prompt.Prompter

	log logger.Logger
}

// NewVault creates a Vault.
func NewVault(cfg *config.VaultConfig, prompter prompt.Prompter, log logger.Logger) (*Vault, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if prompter == nil {
		return nil, errors.New("prompter cannot be nil")
	}

	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Vault{cfg: cfg, prompter: prompter, log: log}, nil
}

// ArchivePath returns the full path of the encrypted archive.
func (v *Vault) ArchivePath() string {
	return filepath.Join(v.cfg.BackupDir, v.cfg.ArchiveName)
}

// BackupResult describes a completed backup.
type BackupResult struct {
	// ArchivePath is where the encrypted archive was written.
	ArchivePath string

	// KeyCount is the number of private keys included.
	KeyCount int

	// ArchiveSize is the encrypted archive size in bytes.
	ArchiveSize int64
}

// Backup packages the credential directory into an encrypted archive. It
// fails fast when the directory is absent or holds no private keys, and asks
// before overwriting an existing archive. A failed run never leaves a partial
// archive behind.
func (v *Vault) Backup() (*BackupResult, error) {
	if _, err := os.Stat(v.cfg.SSHDir); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNoCredentialDir, v.cfg.SSHDir)
		}

		return nil, errors.Wrapf(err, "stating %s", v.cfg.SSHDir)
	}

	keys, err := ListKeys(v.cfg.SSHDir, v.cfg.KeyGlobs, v.cfg.ExcludeGlobs)
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return nil, errors.Wrap(ErrNoKeys, v.cfg.SSHDir)
	}

	archivePath := v.ArchivePath()

	if _, err := os.Stat(archivePath); err == nil {
		ok, confirmErr := v.prompter.Confirm(
			"Archive "+archivePath+" already exists. Overwrite it?", false)
		if confirmErr != nil {
			return nil, confirmErr
		}

		if !ok {
			return nil, ErrAborted
		}
	}

	passphrase, err := v.prompter.Passphrase("Encryption passphrase", true)
	if err != nil {
		return nil, err
	}
	defer zero(passphrase)

	plaintext, err := packDir(v.cfg.SSHDir)
	if err != nil {
		return nil, err
	}

	blob, err := seal(plaintext, passphrase)
	if err != nil {
		return nil, err
	}

	if err := v.writeArchive(archivePath, blob); err != nil {
		return nil, err
	}

	v.log.Info("backup written",
		"archive", archivePath,
		"keys", len(keys),
		"bytes", int64(len(blob)),
	)

	return &BackupResult{
		ArchivePath: archivePath,
		KeyCount:    len(keys),
		ArchiveSize: int64(len(blob)),
	}, nil
}

// writeArchive writes the blob to a temp path in the destination directory
// and renames it into place, so a failed write leaves no partial archive.
func (v *Vault) writeArchive(archivePath string, blob []byte) error {
	if err := xdg.EnsureDir(v.cfg.BackupDir); err != nil {
		return err
	}

	tmpPath := filepath.Join(v.cfg.BackupDir, archiveTmpName)

	if err := os.WriteFile(tmpPath, blob, privateMode); err != nil {
		_ = os.Remove(tmpPath)

		return errors.Wrapf(err, "writing archive to %s", tmpPath)
	}

	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)

		return errors.Wrap(err, "moving archive into place")
	}

	return nil
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	// KeyCount is the number of private keys in the restored directory.
	KeyCount int

	// RelocatedTo is where a pre-existing credential directory was moved,
	// empty when there was nothing to relocate.
	RelocatedTo string
}

// Restore reproduces the credential directory from the encrypted archive.
// The archive is decrypted fully in memory before the existing directory is
// touched: a wrong passphrase leaves local state exactly as it was. A
// pre-existing directory is relocated to a sibling ".old" path, never
// deleted. Permissions are re-asserted explicitly after extraction because
// SSH refuses keys with permissive modes.
func (v *Vault) Restore() (*RestoreResult, error) {
	archivePath := v.ArchivePath()

	blob, err := os.ReadFile(archivePath) //nolint:gosec // G304: configured archive path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNoArchive, archivePath)
		}

		return nil, errors.Wrapf(err, "reading archive %s", archivePath)
	}

	if err := v.confirmRestoreOverwrite(); err != nil {
		return nil, err
	}

	passphrase, err := v.prompter.Passphrase("Decryption passphrase", false)
	if err != nil {
		return nil, err
	}
	defer zero(passphrase)

	plaintext, err := open(blob, passphrase)
	if err != nil {
		return nil, err
	}

	relocated, err := v.relocateExisting()
	if err != nil {
		return nil, err
	}

	if err := unpackDir(plaintext, v.cfg.SSHDir); err != nil {
		return nil, err
	}

	if err := v.applyPermissions(); err != nil {
		return nil, err
	}

	keys, err := ListKeys(v.cfg.SSHDir, v.cfg.KeyGlobs, v.cfg.ExcludeGlobs)
	if err != nil {
		return nil, err
	}

	v.log.Info("restore complete",
		"dir", v.cfg.SSHDir,
		"keys", len(keys),
		"relocated", relocated,
	)

	return &RestoreResult{KeyCount: len(keys), RelocatedTo: relocated}, nil
}

// confirmRestoreOverwrite asks before overwriting a credential directory that
// already holds private keys.
func (v *Vault) confirmRestoreOverwrite() error {
	if _, err := os.Stat(v.cfg.SSHDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.Wrapf(err, "stating %s", v.cfg.SSHDir)
	}

	keys, err := ListKeys(v.cfg.SSHDir, v.cfg.KeyGlobs, v.cfg.ExcludeGlobs)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	ok, err := v.prompter.Confirm(
		v.cfg.SSHDir+" already contains private keys. Overwrite it?", false)
	if err != nil {
		return err
	}

	if !ok {
		return ErrAborted
	}

	return nil
}

// relocateExisting moves an existing credential directory to a sibling ".old"
// path. A stale ".old" from a previous restore is replaced.
func (v *Vault) relocateExisting() (string, error) {
	if _, err := os.Stat(v.cfg.SSHDir); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", errors.Wrapf(err, "stating %s", v.cfg.SSHDir)
	}

	oldPath := v.cfg.SSHDir + oldDirSuffix

	if err := os.RemoveAll(oldPath); err != nil {
		return "", errors.Wrapf(err, "clearing stale %s", oldPath)
	}

	if err := os.Rename(v.cfg.SSHDir, oldPath); err != nil {
		return "", errors.Wrapf(err, "relocating %s", v.cfg.SSHDir)
	}

	return oldPath, nil
}

// applyPermissions re-asserts the documented permission bits on the restored
// tree: directories 700, public keys 644, everything else 600. Archive
// formats do not reliably round-trip permission bits, and SSH refuses keys
// with permissive modes, so the modes are set unconditionally.
func (v *Vault) applyPermissions() error {
	return filepath.WalkDir(v.cfg.SSHDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		mode := fs.FileMode(privateMode)

		switch {
		case d.IsDir():
			mode = dirMode
		case v.isPublic(d.Name()):
			mode = publicMode
		}

		if chmodErr := os.Chmod(path, mode); chmodErr != nil {
			return errors.Wrapf(chmodErr, "setting mode on %s", path)
		}

		return nil
	})
}

func (v *Vault) isPublic(name string) bool {
	matched, err := matchesAny(name, v.cfg.ExcludeGlobs)

	return err == nil && matched
}

// CheckReport is the read-only status of the credential directory and the
// archive. Absence of either is status, not failure.
type CheckReport struct {
	// SSHDir is the credential directory path.
	SSHDir string

	// DirPresent reports whether the credential directory exists.
	DirPresent bool

	// Keys lists the private-key file names found, nil when none.
	Keys []string

	// ArchivePath is the archive location.
	ArchivePath string

	// ArchivePresent reports whether the archive exists.
	ArchivePresent bool

	// ArchiveSize is the archive size in bytes, 0 when absent.
	ArchiveSize int64

	// ArchiveModTime is the archive modification time, zero when absent.
	ArchiveModTime time.Time
}

// Check reports the current state without mutating anything.
func (v *Vault) Check() (*CheckReport, error) {
	report := &CheckReport{
		SSHDir:      v.cfg.SSHDir,
		ArchivePath: v.ArchivePath(),
	}

	if _, err := os.Stat(v.cfg.SSHDir); err == nil {
		report.DirPresent = true

		keys, listErr := ListKeys(v.cfg.SSHDir, v.cfg.KeyGlobs, v.cfg.ExcludeGlobs)
		if listErr != nil {
			return nil, listErr
		}

		report.Keys = keys
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stating %s", v.cfg.SSHDir)
	}

	if info, err := os.Stat(report.ArchivePath); err == nil {
		report.ArchivePresent = true
		report.ArchiveSize = info.Size()
		report.ArchiveModTime = info.ModTime()
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stating %s", report.ArchivePath)
	}

	return report, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
