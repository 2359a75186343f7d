package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	tomlparser "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mkrol/sbckit/internal/xdg"
)

// ErrInvalidTOML is returned when the config file cannot be parsed.
var ErrInvalidTOML = errors.New("invalid TOML")

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "SBCKIT_"

// Loader loads configuration from defaults, the TOML config file, and
// SBCKIT_* environment variables, in increasing precedence.
type Loader struct {
	k          *koanf.Koanf
	configFile string
}

// NewLoader creates a Loader using the default config file location.
func NewLoader() *Loader {
	return NewLoaderWithFile(xdg.ConfigFile())
}

// NewLoaderWithFile creates a Loader reading a specific config file (for testing).
func NewLoaderWithFile(configFile string) *Loader {
	return &Loader{
		k:          koanf.New("."),
		configFile: configFile,
	}
}

// Load loads configuration from all sources with precedence.
// Defaults → TOML file → Environment variables.
func (l *Loader) Load() (*Config, error) {
	l.k = koanf.New(".")

	if err := l.k.Load(confmap.Provider(defaultsToMap(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	if err := l.loadTOMLFile(l.configFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "failed to load config file")
	}

	envOpt := env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envTransform,
	}

	if err := l.k.Load(env.Provider(".", envOpt), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load env vars")
	}

	var cfg Config

	unmarshalConf := koanf.UnmarshalConf{Tag: "koanf", FlatPaths: false}
	if err := l.k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}

// loadTOMLFile loads a TOML file into the koanf state.
func (l *Loader) loadTOMLFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	if err := l.k.Load(file.Provider(path), tomlparser.Parser()); err != nil {
		return errors.Wrapf(ErrInvalidTOML, "%s: %v", path, err)
	}

	return nil
}

// envTransform maps environment variable names to config paths.
// SBCKIT_TOOLCHAIN_INSTALL_DIR → toolchain.install_dir
// SBCKIT_VAULT_BACKUP_DIR → vault.backup_dir
func envTransform(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key, value
	}

	return section + "." + rest, value
}

// defaultsToMap builds the lowest-precedence configuration layer.
func defaultsToMap() map[string]any {
	return map[string]any{
		"toolchain.install_dir":      xdg.ToolchainInstallDir(),
		"toolchain.version_file":     xdg.ToolchainVersionFile(),
		"toolchain.env_script":       xdg.ToolchainEnvScript(),
		"toolchain.profiles":         xdg.ShellProfiles(),
		"toolchain.fallback_version": "",
		"toolchain.download_timeout": "10m",
		"vault.ssh_dir":              xdg.SSHDir(),
		"vault.backup_dir":           xdg.VaultBackupDir(),
		"vault.archive_name":         "ssh_keys.enc",
		"vault.key_globs":            []string{"id_*"},
		"vault.exclude_globs":        []string{"*.pub"},
	}
}

// validate rejects configurations the tools cannot operate on.
func validate(cfg *Config) error {
	if cfg.Toolchain == nil || cfg.Toolchain.InstallDir == "" {
		return errors.New("toolchain.install_dir must not be empty")
	}

	if cfg.Toolchain.VersionFile == "" {
		return errors.New("toolchain.version_file must not be empty")
	}

	if cfg.Vault == nil || cfg.Vault.SSHDir == "" {
		return errors.New("vault.ssh_dir must not be empty")
	}

	if cfg.Vault.BackupDir == "" {
		return errors.New("vault.backup_dir must not be empty")
	}

	if cfg.Vault.ArchiveName == "" ||
		strings.ContainsAny(cfg.Vault.ArchiveName, "/") {
		return errors.Newf("vault.archive_name must be a bare file name, got %q", cfg.Vault.ArchiveName)
	}

	if len(cfg.Vault.KeyGlobs) == 0 {
		return errors.New("vault.key_globs must not be empty")
	}

	return nil
}
