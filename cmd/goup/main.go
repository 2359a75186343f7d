// Package main provides the CLI entry point for goup, the Go toolchain
// convergence installer.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mkrol/sbckit/internal/config"
	"github.com/mkrol/sbckit/internal/exec"
	"github.com/mkrol/sbckit/internal/toolchain"
	"github.com/mkrol/sbckit/pkg/logger"
)

var (
	checkOnly    bool
	forceInstall bool
	debugMode    bool
	traceMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "goup",
	Short: "Converge the local Go toolchain to the latest release",
	Long: `goup resolves the latest Go release, compares it with the locally
recorded version, and installs, updates, or repairs the toolchain as needed.
A run that finds everything current performs no install work.

Examples:
  goup            # converge to the latest release
  goup --check    # report what a run would do, change nothing
  goup --force    # reinstall even when the recorded version matches`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func init() {
	rootCmd.Flags().BoolVar(&checkOnly, "check", false, "Report pending work without changing anything")
	rootCmd.Flags().BoolVar(&forceInstall, "force", false, "Reinstall even when the recorded version matches")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&traceMode, "trace", false, "Enable trace logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log := logger.NewStderrLogger(logger.LevelFromFlags(debugMode, traceMode))

	cfg, err := config.NewLoader().Load()
	if err != nil {
		return err
	}

	runner := exec.NewCommandRunner(cfg.Toolchain.GetDownloadTimeout())

	platform, err := toolchain.DetectPlatform(ctx, runner)
	if err != nil {
		return err
	}

	installer := toolchain.NewInstaller(cfg.Toolchain, platform,
		toolchain.WithRunner(runner),
		toolchain.WithLogger(log),
		toolchain.WithProgress(printProgress),
	)

	if checkOnly {
		return reportPending(ctx, installer)
	}

	result, err := installer.Converge(ctx, forceInstall)
	if err != nil {
		return err
	}

	switch result.Action {
	case toolchain.ActionNone:
		fmt.Printf("Go toolchain is up to date (%s)\n", result.Version)
	case toolchain.ActionInstall:
		fmt.Printf("Installed Go toolchain %s\n", result.Version)
	case toolchain.ActionUpdate:
		fmt.Printf("Updated Go toolchain %s -> %s\n", result.PreviousVersion, result.Version)
	case toolchain.ActionRepair:
		fmt.Printf("Repaired Go toolchain %s\n", result.Version)
	}

	return nil
}

// reportPending prints what a converge run would do, without doing it.
func reportPending(ctx context.Context, installer *toolchain.Installer) error {
	latest := installer.LatestVersion(ctx)

	recorded, err := installer.RecordedVersion()
	if errors.Is(err, toolchain.ErrNoRecord) {
		fmt.Printf("Not installed; latest available is %s\n", latest)

		return nil
	}

	if err != nil {
		return err
	}

	switch toolchain.CompareVersions(recorded, latest) {
	case toolchain.RelationshipSame:
		fmt.Printf("Up to date (%s)\n", recorded)
	case toolchain.RelationshipUpgrade:
		fmt.Printf("Update available: %s -> %s\n", recorded, latest)
	case toolchain.RelationshipDowngrade:
		fmt.Printf("Recorded version %s is newer than latest published %s\n", recorded, latest)
	}

	return nil
}

// printProgress writes download progress to stderr, overwriting the line.
func printProgress(done, total int64) {
	if total <= 0 {
		fmt.Fprintf(os.Stderr, "\rDownloading... %s", humanize.Bytes(uint64(done))) //nolint:gosec // done >= 0

		return
	}

	fmt.Fprintf(os.Stderr, "\rDownloading... %s / %s",
		humanize.Bytes(uint64(done)),  //nolint:gosec // done >= 0
		humanize.Bytes(uint64(total)), //nolint:gosec // total > 0
	)

	if done >= total {
		fmt.Fprintln(os.Stderr)
	}
}
