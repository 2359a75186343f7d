package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Reproduce the credential directory from the archive",
	Long: `Decrypt the archive and reproduce the credential directory.

A pre-existing credential directory is moved to a sibling ".old" path, never
deleted. A wrong passphrase leaves everything exactly as it was. Permission
bits are re-asserted after extraction (directory 700, private keys 600,
public keys 644).`,
	RunE: runRestore,
}

func runRestore(_ *cobra.Command, _ []string) error {
	v, err := newVault()
	if err != nil {
		return err
	}

	result, err := v.Restore()
	if err != nil {
		return err
	}

	fmt.Printf("Restored %d private key(s)\n", result.KeyCount)

	if result.RelocatedTo != "" {
		fmt.Printf("Previous credentials kept at %s\n", result.RelocatedTo)
	}

	return nil
}
