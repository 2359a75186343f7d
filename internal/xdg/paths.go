// Package xdg provides centralized path management following XDG Base Directory
// conventions. All paths sbckit tools touch on disk are defined here: the Go
// toolchain install dir, the version record, the environment script, and the
// credential archive directory.
package xdg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const appName = "sbckit"

func userHome() (string, error) {
	return os.UserHomeDir()
}

// ConfigHome returns $XDG_CONFIG_HOME or ~/.config.
func ConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}

	home, err := userHome()
	if err != nil {
		return filepath.Join("~", ".config")
	}

	return filepath.Join(home, ".config")
}

// DataHome returns $XDG_DATA_HOME or ~/.local/share.
func DataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}

	home, err := userHome()
	if err != nil {
		return filepath.Join("~", ".local", "share")
	}

	return filepath.Join(home, ".local", "share")
}

// StateHome returns $XDG_STATE_HOME or ~/.local/state.
func StateHome() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}

	home, err := userHome()
	if err != nil {
		return filepath.Join("~", ".local", "state")
	}

	return filepath.Join(home, ".local", "state")
}

// ConfigDir returns ConfigHome()/sbckit.
func ConfigDir() string {
	return filepath.Join(ConfigHome(), appName)
}

// DataDir returns DataHome()/sbckit.
func DataDir() string {
	return filepath.Join(DataHome(), appName)
}

// StateDir returns StateHome()/sbckit.
func StateDir() string {
	return filepath.Join(StateHome(), appName)
}

// ConfigFile returns ConfigDir()/config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// ToolchainInstallDir returns the default Go toolchain install directory.
func ToolchainInstallDir() string {
	return filepath.Join(DataDir(), "go")
}

// ToolchainVersionFile returns the version record path for the Go toolchain.
func ToolchainVersionFile() string {
	return filepath.Join(StateDir(), "go.version")
}

// ToolchainEnvScript returns the environment-export script path.
func ToolchainEnvScript() string {
	return filepath.Join(ConfigDir(), "go.env")
}

// VaultBackupDir returns the credential archive directory.
// Respects SBCKIT_VAULT_BACKUP_DIR, otherwise DataDir()/backups.
func VaultBackupDir() string {
	if v := os.Getenv("SBCKIT_VAULT_BACKUP_DIR"); v != "" {
		return v
	}

	return filepath.Join(DataDir(), "backups")
}

// SSHDir returns the operator's SSH credential directory.
func SSHDir() string {
	home, err := userHome()
	if err != nil {
		return filepath.Join("~", ".ssh")
	}

	return filepath.Join(home, ".ssh")
}

// ShellProfiles returns the candidate shell profile files, present or not.
func ShellProfiles() []string {
	home, err := userHome()
	if err != nil {
		return nil
	}

	return []string{
		filepath.Join(home, ".profile"),
		filepath.Join(home, ".bashrc"),
		filepath.Join(home, ".zshrc"),
	}
}

// ExpandPath resolves ~ prefix to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
// Returns error for invalid tilde usage like "~foo".
func ExpandPath(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	home, err := userHome()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}

	switch {
	case path == "~":
		return home, nil
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(home, path[2:]), nil
	default:
		return "", errors.Newf("paths starting with ~ must be either ~ or ~/subdir, got %q", path)
	}
}

// EnsureDir creates a directory with 0700 permissions if it doesn't exist,
// and fixes permissions on existing directories if they're too open.
func EnsureDir(path string) error {
	const dirMode = 0o700

	if err := os.MkdirAll(path, dirMode); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", path)
	}

	// MkdirAll only sets perms on new dirs. Fix existing ones if too open.
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to stat directory %s", path)
	}

	if info.Mode().Perm() != dirMode {
		if err := os.Chmod(path, dirMode); err != nil {
			return errors.Wrapf(err, "failed to set permissions on %s", path)
		}
	}

	return nil
}
