package vault_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/config"
	"github.com/mkrol/sbckit/internal/vault"
)

var _ = Describe("Vault", func() {
	var (
		cfg      *config.VaultConfig
		prompter *fakePrompter
	)

	newVault := func() *vault.Vault {
		v, err := vault.NewVault(cfg, prompter, nil)
		Expect(err).NotTo(HaveOccurred())

		return v
	}

	seedCredentials := func() {
		Expect(os.MkdirAll(cfg.SSHDir, 0o700)).To(Succeed())

		// Deliberately sloppy modes: restore must fix them regardless.
		seed := map[string]struct {
			content string
			mode    os.FileMode
		}{
			"id_ed25519":     {"PRIVATE KEY DATA", 0o644},
			"id_ed25519.pub": {"ssh-ed25519 AAAA", 0o600},
			"config":         {"Host *\n", 0o644},
			"known_hosts":    {"host ssh-ed25519 AAAA", 0o644},
		}
		for name, f := range seed {
			Expect(os.WriteFile(
				filepath.Join(cfg.SSHDir, name), []byte(f.content), f.mode,
			)).To(Succeed())
		}
	}

	BeforeEach(func() {
		tmp := GinkgoT().TempDir()

		cfg = &config.VaultConfig{
			SSHDir:       filepath.Join(tmp, ".ssh"),
			BackupDir:    filepath.Join(tmp, "backups"),
			ArchiveName:  "ssh_keys.enc",
			KeyGlobs:     []string{"id_*"},
			ExcludeGlobs: []string{"*.pub"},
		}
		prompter = &fakePrompter{passphrase: []byte("open sesame")}
	})

	Describe("Backup", func() {
		It("fails fast when the credential directory is absent", func() {
			_, err := newVault().Backup()
			Expect(errors.Is(err, vault.ErrNoCredentialDir)).To(BeTrue())
		})

		It("fails fast when no private keys exist", func() {
			Expect(os.MkdirAll(cfg.SSHDir, 0o700)).To(Succeed())
			Expect(os.WriteFile(
				filepath.Join(cfg.SSHDir, "known_hosts"), []byte("x"), 0o600,
			)).To(Succeed())

			_, err := newVault().Backup()
			Expect(errors.Is(err, vault.ErrNoKeys)).To(BeTrue())
		})

		It("writes an encrypted archive with owner-only mode", func() {
			seedCredentials()

			result, err := newVault().Backup()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.KeyCount).To(Equal(1))
			Expect(result.ArchiveSize).To(BeNumerically(">", 0))

			info, statErr := os.Stat(result.ArchivePath)
			Expect(statErr).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

			data, readErr := os.ReadFile(result.ArchivePath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(data)).NotTo(ContainSubstring("PRIVATE KEY DATA"))
		})

		It("aborts cleanly when overwrite is declined", func() {
			seedCredentials()

			v := newVault()

			first, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			before, readErr := os.ReadFile(first.ArchivePath)
			Expect(readErr).NotTo(HaveOccurred())

			prompter.confirmAnswers = []bool{false}

			_, err = v.Backup()
			Expect(errors.Is(err, vault.ErrAborted)).To(BeTrue())
			Expect(prompter.confirms).To(HaveLen(1))

			after, readErr := os.ReadFile(first.ArchivePath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
		})

		It("overwrites when confirmed", func() {
			seedCredentials()

			v := newVault()

			_, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			prompter.confirmAnswers = []bool{true}

			_, err = v.Backup()
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Restore", func() {
		It("fails fast when no archive exists", func() {
			_, err := newVault().Restore()
			Expect(errors.Is(err, vault.ErrNoArchive)).To(BeTrue())
		})

		It("reproduces contents and re-asserts permissions", func() {
			seedCredentials()

			v := newVault()

			_, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			Expect(os.RemoveAll(cfg.SSHDir)).To(Succeed())

			result, err := v.Restore()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.KeyCount).To(Equal(1))
			Expect(result.RelocatedTo).To(BeEmpty())

			data, readErr := os.ReadFile(filepath.Join(cfg.SSHDir, "id_ed25519"))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("PRIVATE KEY DATA"))

			wantModes := map[string]os.FileMode{
				"id_ed25519":     0o600,
				"id_ed25519.pub": 0o644,
				"config":         0o600,
				"known_hosts":    0o600,
			}
			for name, want := range wantModes {
				info, statErr := os.Stat(filepath.Join(cfg.SSHDir, name))
				Expect(statErr).NotTo(HaveOccurred())
				Expect(info.Mode().Perm()).To(Equal(want), name)
			}

			dirInfo, statErr := os.Stat(cfg.SSHDir)
			Expect(statErr).NotTo(HaveOccurred())
			Expect(dirInfo.Mode().Perm()).To(Equal(os.FileMode(0o700)))
		})

		It("relocates an existing directory to .old", func() {
			seedCredentials()

			v := newVault()

			_, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			marker := filepath.Join(cfg.SSHDir, "local-only")
			Expect(os.WriteFile(marker, []byte("keep me"), 0o600)).To(Succeed())

			prompter.confirmAnswers = []bool{true}

			result, err := v.Restore()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RelocatedTo).To(Equal(cfg.SSHDir + ".old"))

			// The relocated copy keeps the pre-restore state.
			data, readErr := os.ReadFile(filepath.Join(result.RelocatedTo, "local-only"))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("keep me"))

			// The restored tree matches the archive, not the local extras.
			Expect(filepath.Join(cfg.SSHDir, "local-only")).NotTo(BeAnExistingFile())
		})

		It("aborts cleanly when overwriting keys is declined", func() {
			seedCredentials()

			v := newVault()

			_, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			prompter.confirmAnswers = []bool{false}

			_, err = v.Restore()
			Expect(errors.Is(err, vault.ErrAborted)).To(BeTrue())

			// Nothing was relocated or touched.
			Expect(cfg.SSHDir + ".old").NotTo(BeADirectory())
			Expect(filepath.Join(cfg.SSHDir, "id_ed25519")).To(BeAnExistingFile())
		})

		It("leaves local state untouched on a wrong passphrase", func() {
			seedCredentials()

			v := newVault()

			_, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			marker := filepath.Join(cfg.SSHDir, "local-only")
			Expect(os.WriteFile(marker, []byte("keep me"), 0o600)).To(Succeed())

			prompter.passphrase = []byte("not the passphrase")
			prompter.confirmAnswers = []bool{true}

			_, err = v.Restore()
			Expect(errors.Is(err, vault.ErrDecrypt)).To(BeTrue())

			// Decryption happens before any relocation: the live directory is
			// intact and no .old sibling appeared.
			Expect(marker).To(BeAnExistingFile())
			Expect(cfg.SSHDir + ".old").NotTo(BeADirectory())
		})
	})

	Describe("Check", func() {
		It("reports absence of both directory and archive as status", func() {
			report, err := newVault().Check()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.DirPresent).To(BeFalse())
			Expect(report.ArchivePresent).To(BeFalse())
			Expect(report.Keys).To(BeEmpty())
		})

		It("reports keys and archive metadata when present", func() {
			seedCredentials()

			v := newVault()

			backup, err := v.Backup()
			Expect(err).NotTo(HaveOccurred())

			report, err := v.Check()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.DirPresent).To(BeTrue())
			Expect(report.Keys).To(Equal([]string{"id_ed25519"}))
			Expect(report.ArchivePresent).To(BeTrue())
			Expect(report.ArchiveSize).To(Equal(backup.ArchiveSize))
			Expect(report.ArchiveModTime).NotTo(BeZero())
		})
	})
})
