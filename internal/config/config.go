// Package config provides configuration loading for sbckit tools.
package config

import "time"

// Config is the root configuration for both sbckit tools.
type Config struct {
	Toolchain *ToolchainConfig `koanf:"toolchain"`
	Vault     *VaultConfig     `koanf:"vault"`
}

// ToolchainConfig configures the Go toolchain installer.
type ToolchainConfig struct {
	// InstallDir is the directory the toolchain is unpacked into.
	InstallDir string `koanf:"install_dir"`

	// VersionFile records the last successfully installed version.
	VersionFile string `koanf:"version_file"`

	// EnvScript is the generated environment-export script.
	EnvScript string `koanf:"env_script"`

	// Profiles are the shell profile files that source the env script.
	Profiles []string `koanf:"profiles"`

	// FallbackVersion is the last-known-good version used when every
	// remote version source fails.
	FallbackVersion string `koanf:"fallback_version"`

	// DownloadTimeout bounds a single archive download, e.g. "10m".
	DownloadTimeout string `koanf:"download_timeout"`
}

// GetDownloadTimeout parses DownloadTimeout, falling back to 10 minutes.
func (c *ToolchainConfig) GetDownloadTimeout() time.Duration {
	const fallback = 10 * time.Minute

	if c == nil || c.DownloadTimeout == "" {
		return fallback
	}

	d, err := time.ParseDuration(c.DownloadTimeout)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

// VaultConfig configures the SSH credential vault.
type VaultConfig struct {
	// SSHDir is the credential directory to back up and restore.
	SSHDir string `koanf:"ssh_dir"`

	// BackupDir is the directory holding the encrypted archive.
	BackupDir string `koanf:"backup_dir"`

	// ArchiveName is the fixed archive file name inside BackupDir.
	ArchiveName string `koanf:"archive_name"`

	// KeyGlobs match private key file names.
	KeyGlobs []string `koanf:"key_globs"`

	// ExcludeGlobs exclude matches from KeyGlobs (public keys).
	ExcludeGlobs []string `koanf:"exclude_globs"`
}
