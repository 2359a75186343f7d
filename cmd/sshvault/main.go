// Package main provides the CLI entry point for sshvault, the encrypted SSH
// credential vault.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mkrol/sbckit/internal/config"
	"github.com/mkrol/sbckit/internal/prompt"
	"github.com/mkrol/sbckit/internal/vault"
	"github.com/mkrol/sbckit/pkg/logger"
)

var (
	debugMode bool
	traceMode bool
)

var rootCmd = &cobra.Command{
	Use:   "sshvault",
	Short: "Back up and restore SSH credentials as an encrypted archive",
	Long: `sshvault packages the SSH credential directory into a single
passphrase-encrypted archive, restores it on a fresh machine, and reports
status. The backup directory can be overridden with SBCKIT_VAULT_BACKUP_DIR.

Subcommands:
  backup   Encrypt the credential directory into the archive
  restore  Reproduce the credential directory from the archive
  check    Report credential and archive status (read-only)`,
	// A bare or misspelled invocation prints usage and exits non-zero so
	// scripts cannot mistake it for a successful run.
	RunE: func(cmd *cobra.Command, _ []string) error {
		_ = cmd.Usage()

		return errors.New("missing subcommand")
	},
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			_ = cmd.Usage()

			return errors.Newf("unknown subcommand %q", args[0])
		}

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&traceMode, "trace", false, "Enable trace logging")

	rootCmd.AddCommand(backupCmd, restoreCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, vault.ErrAborted) {
			// A declined confirmation is a voluntary abort, not a failure.
			fmt.Println("Aborted.")
			os.Exit(0)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newVault wires a Vault from configuration and the interactive prompter.
func newVault() (*vault.Vault, error) {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewStderrLogger(logger.LevelFromFlags(debugMode, traceMode))

	return vault.NewVault(cfg.Vault, prompt.NewStdPrompter(), log)
}
