package toolchain_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/exec"
	"github.com/mkrol/sbckit/internal/toolchain"
)

var _ = Describe("Verifier", func() {
	var (
		installDir string
		platform   toolchain.Platform
	)

	BeforeEach(func() {
		installDir = GinkgoT().TempDir()
		platform = toolchain.Platform{OS: "linux", Arch: "amd64"}

		binDir := filepath.Join(installDir, "bin")
		Expect(os.MkdirAll(binDir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(binDir, "go"), []byte("#!/bin/sh\n"), 0o644)).To(Succeed())
	})

	It("returns the self-reported version on success", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			versionOK("go1.24.4"),
		}}

		v := toolchain.NewVerifier(installDir, platform, runner, nil)

		version, err := v.Verify(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("go1.24.4"))
	})

	It("repairs a lost exec bit and retries once", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			{ExitCode: 126, Err: errors.New("permission denied")},
			{Stdout: "ELF 64-bit LSB executable, x86-64, version 1 (SYSV)\n"},
			versionOK("go1.24.4"),
		}}

		v := toolchain.NewVerifier(installDir, platform, runner, nil)

		version, err := v.Verify(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("go1.24.4"))

		info, statErr := os.Stat(filepath.Join(installDir, "bin", "go"))
		Expect(statErr).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o755)))
	})

	It("reports a fatal architecture mismatch without retrying", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			{ExitCode: 1, Err: errors.New("exec format error")},
			{Stdout: "ELF 64-bit LSB executable, ARM aarch64, version 1 (SYSV)\n"},
		}}

		v := toolchain.NewVerifier(installDir, platform, runner, nil)

		_, err := v.Verify(context.Background())
		Expect(errors.Is(err, toolchain.ErrArchMismatch)).To(BeTrue())
		// No third call: the binary self-report was not retried.
		Expect(runner.calls).To(HaveLen(2))
	})

	It("fails when the retry also fails", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			{ExitCode: 1, Err: errors.New("boom")},
			{Stdout: "data\n"},
			{ExitCode: 1, Err: errors.New("boom again")},
		}}

		v := toolchain.NewVerifier(installDir, platform, runner, nil)

		_, err := v.Verify(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("after permission repair"))
	})

	It("rejects garbage self-report output", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			{Stdout: "not a version line\n"},
			{Stdout: "data\n"},
			{Stdout: "still not a version line\n"},
		}}

		v := toolchain.NewVerifier(installDir, platform, runner, nil)

		_, err := v.Verify(context.Background())
		Expect(err).To(HaveOccurred())
	})
})
