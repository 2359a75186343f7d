package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Encrypt the credential directory into the archive",
	Long: `Package the SSH credential directory into a single encrypted archive.

The passphrase is read interactively and never stored. An existing archive is
only overwritten after explicit confirmation.`,
	RunE: runBackup,
}

func runBackup(_ *cobra.Command, _ []string) error {
	v, err := newVault()
	if err != nil {
		return err
	}

	result, err := v.Backup()
	if err != nil {
		return err
	}

	fmt.Printf("Backed up %d private key(s) to %s (%s)\n",
		result.KeyCount,
		result.ArchivePath,
		humanize.Bytes(uint64(result.ArchiveSize)), //nolint:gosec // size >= 0
	)

	return nil
}
