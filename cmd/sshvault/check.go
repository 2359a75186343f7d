package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/mkrol/sbckit/internal/vault"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report credential and archive status (read-only)",
	Long: `Report the state of the credential directory and the backup archive.

Absence of either is reported as status, not treated as an error.`,
	RunE: runCheck,
}

func runCheck(_ *cobra.Command, _ []string) error {
	v, err := newVault()
	if err != nil {
		return err
	}

	report, err := v.Check()
	if err != nil {
		return err
	}

	renderReport(report)

	return nil
}

// renderReport prints the check status as a table.
func renderReport(report *vault.CheckReport) {
	t := tablewriter.NewTable(os.Stdout,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleRounded),
		})),
		tablewriter.WithPadding(tw.Padding{Left: " ", Right: " "}),
	)

	t.Header([]string{"Item", "Status", "Details"})

	_ = t.Append(credentialRow(report))
	_ = t.Append(archiveRow(report))

	_ = t.Render()
}

func credentialRow(report *vault.CheckReport) []string {
	if !report.DirPresent {
		return []string{"Credentials", "absent", report.SSHDir}
	}

	details := fmt.Sprintf("%d private key(s)", len(report.Keys))
	if len(report.Keys) > 0 {
		details += ": " + strings.Join(report.Keys, ", ")
	}

	return []string{"Credentials", "present", details}
}

func archiveRow(report *vault.CheckReport) []string {
	if !report.ArchivePresent {
		return []string{"Archive", "absent", report.ArchivePath}
	}

	age := durafmt.Parse(time.Since(report.ArchiveModTime)).LimitFirstN(2)

	details := fmt.Sprintf("%s, modified %s ago",
		humanize.Bytes(uint64(report.ArchiveSize)), //nolint:gosec // size >= 0
		age,
	)

	return []string{"Archive", "present", details}
}
