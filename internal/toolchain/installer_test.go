package toolchain_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/config"
	"github.com/mkrol/sbckit/internal/exec"
	"github.com/mkrol/sbckit/internal/toolchain"
)

// fixedResolver always resolves the same version.
type fixedResolver struct {
	version string
}

func (r *fixedResolver) Resolve(_ context.Context) string {
	return r.version
}

var _ = Describe("Installer", func() {
	const latest = "go1.24.4"

	var (
		cfg      *config.ToolchainConfig
		platform toolchain.Platform
		profile  string

		archiveHits atomic.Int32
		archiveBody []byte
		server      *httptest.Server
	)

	BeforeEach(func() {
		tmp := GinkgoT().TempDir()
		profile = filepath.Join(tmp, ".bashrc")
		Expect(os.WriteFile(profile, []byte("# shell setup\n"), 0o644)).To(Succeed())

		cfg = &config.ToolchainConfig{
			InstallDir:  filepath.Join(tmp, "data", "go"),
			VersionFile: filepath.Join(tmp, "state", "go.version"),
			EnvScript:   filepath.Join(tmp, "conf", "go.env"),
			Profiles:    []string{profile},
		}
		platform = toolchain.Platform{OS: "linux", Arch: "amd64"}

		archiveHits.Store(0)
		archiveBody = buildArchive(map[string]string{
			"bin/go":  "#!/bin/sh\necho go version " + latest + " linux/amd64\n",
			"VERSION": latest,
		})

		server = httptest.NewServer(
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				archiveHits.Add(1)
				_, _ = w.Write(archiveBody)
			}),
		)
		DeferCleanup(server.Close)
	})

	newInstaller := func(runner exec.CommandRunner) *toolchain.Installer {
		d := toolchain.NewDownloader(nil)
		d.MinArchiveBytes = 1

		return toolchain.NewInstaller(cfg, platform,
			toolchain.WithResolver(&fixedResolver{version: latest}),
			toolchain.WithDownloader(d),
			toolchain.WithRunner(runner),
			toolchain.WithDownloadBaseURLs(server.URL+"/", server.URL+"/"),
		)
	}

	It("installs fresh when no version is recorded", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			versionOK(latest),
		}}

		result, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Action).To(Equal(toolchain.ActionInstall))
		Expect(result.Version).To(Equal(latest))
		Expect(result.PreviousVersion).To(BeEmpty())

		// Extracted tree, version record, env script, and profile wiring.
		Expect(filepath.Join(cfg.InstallDir, "bin", "go")).To(BeAnExistingFile())

		record, readErr := os.ReadFile(cfg.VersionFile)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(record))).To(Equal(latest))

		Expect(cfg.EnvScript).To(BeAnExistingFile())

		profileData, readErr := os.ReadFile(profile)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(string(profileData)).To(ContainSubstring(cfg.EnvScript))
	})

	It("performs no install work when already converged", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			versionOK(latest),
		}}

		_, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())

		hitsAfterInstall := archiveHits.Load()

		runner = &scriptedRunner{results: []*exec.CommandResult{
			versionOK(latest),
		}}

		result, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Action).To(Equal(toolchain.ActionNone))

		// No second download.
		Expect(archiveHits.Load()).To(Equal(hitsAfterInstall))
	})

	It("replaces an outdated install", func() {
		Expect(toolchain.WriteRecordedVersion(cfg.VersionFile, "go1.23.0")).To(Succeed())

		oldMarker := filepath.Join(cfg.InstallDir, "old-marker")
		Expect(os.MkdirAll(cfg.InstallDir, 0o755)).To(Succeed())
		Expect(os.WriteFile(oldMarker, []byte("stale"), 0o644)).To(Succeed())

		runner := &scriptedRunner{results: []*exec.CommandResult{
			versionOK(latest),
		}}

		result, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Action).To(Equal(toolchain.ActionUpdate))
		Expect(result.PreviousVersion).To(Equal("go1.23.0"))

		Expect(oldMarker).NotTo(BeAnExistingFile())
		Expect(filepath.Join(cfg.InstallDir, "bin", "go")).To(BeAnExistingFile())

		record, readErr := os.ReadFile(cfg.VersionFile)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(record))).To(Equal(latest))
	})

	It("keeps the previous install and record when extraction fails", func() {
		Expect(toolchain.WriteRecordedVersion(cfg.VersionFile, "go1.23.0")).To(Succeed())

		oldBinary := filepath.Join(cfg.InstallDir, "bin", "go")
		Expect(os.MkdirAll(filepath.Dir(oldBinary), 0o755)).To(Succeed())
		Expect(os.WriteFile(oldBinary, []byte("previous toolchain"), 0o755)).To(Succeed())

		// Large enough to pass the size check, not a gzip stream.
		archiveBody = []byte(strings.Repeat("garbage", 64))

		runner := &scriptedRunner{}

		_, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("extracting archive"))

		data, readErr := os.ReadFile(oldBinary)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("previous toolchain"))

		record, readErr := os.ReadFile(cfg.VersionFile)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(record))).To(Equal("go1.23.0"))

		// No staging leftovers either.
		Expect(cfg.InstallDir + ".staging").NotTo(BeADirectory())
	})

	It("reinstalls when the current install fails verification", func() {
		Expect(toolchain.WriteRecordedVersion(cfg.VersionFile, latest)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(cfg.InstallDir, "bin"), 0o755)).To(Succeed())
		Expect(os.WriteFile(
			filepath.Join(cfg.InstallDir, "bin", "go"), []byte("broken"), 0o755,
		)).To(Succeed())

		runner := &scriptedRunner{results: []*exec.CommandResult{
			// First verification: broken binary, inconclusive file(1) output,
			// still broken after the permission repair retry.
			{ExitCode: 1, Err: errors.New("exec format error")},
			{Stdout: "data\n"},
			{ExitCode: 1, Err: errors.New("exec format error")},
			// Verification of the reinstalled tree.
			versionOK(latest),
		}}

		result, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Action).To(Equal(toolchain.ActionRepair))
		Expect(archiveHits.Load()).To(Equal(int32(1)))
	})

	It("reinstalls a matching version when forced", func() {
		runner := &scriptedRunner{results: []*exec.CommandResult{
			versionOK(latest),
		}}

		_, err := newInstaller(runner).Converge(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())

		runner = &scriptedRunner{results: []*exec.CommandResult{
			versionOK(latest),
		}}

		result, err := newInstaller(runner).Converge(context.Background(), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Action).To(Equal(toolchain.ActionUpdate))
		Expect(archiveHits.Load()).To(Equal(int32(2)))
	})
})
