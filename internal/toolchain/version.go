package toolchain

import (
	"context"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/mkrol/sbckit/pkg/logger"
)

// DefaultFallbackVersion is the last-known-good version used when every remote
// source fails. Goes stale over time by design; bumped when a release is cut.
const DefaultFallbackVersion = "go1.24.4"

const (
	primaryVersionURL = "https://go.dev/VERSION?m=text"
	listingURL        = "https://go.dev/dl/"
)

// versionPattern accepts "go" + major + optional ".minor" + optional ".patch".
var versionPattern = regexp.MustCompile(`^go\d+(\.\d+(\.\d+)?)?$`)

// listingPattern finds version strings embedded in the download listing page.
var listingPattern = regexp.MustCompile(`go\d+\.\d+(\.\d+)?`)

// IsValidVersion reports whether v is a well-formed toolchain version string.
func IsValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// Relationship describes how a recorded version relates to the latest one.
type Relationship string

const (
	// RelationshipSame means both versions are equal.
	RelationshipSame Relationship = "same"

	// RelationshipUpgrade means latest is newer than recorded.
	RelationshipUpgrade Relationship = "upgrade"

	// RelationshipDowngrade means latest is older than recorded.
	RelationshipDowngrade Relationship = "downgrade"
)

// CompareVersions classifies the move from recorded to latest. Unparseable
// input is treated as an upgrade so convergence still proceeds.
func CompareVersions(recorded, latest string) Relationship {
	if recorded == latest {
		return RelationshipSame
	}

	recordedVer, err := semver.NewVersion(strings.TrimPrefix(recorded, "go"))
	if err != nil {
		return RelationshipUpgrade
	}

	latestVer, err := semver.NewVersion(strings.TrimPrefix(latest, "go"))
	if err != nil {
		return RelationshipUpgrade
	}

	switch {
	case latestVer.GreaterThan(recordedVer):
		return RelationshipUpgrade
	case latestVer.LessThan(recordedVer):
		return RelationshipDowngrade
	default:
		return RelationshipSame
	}
}

// VersionResolver resolves the latest available toolchain version.
type VersionResolver interface {
	// Resolve returns a syntactically valid version string. It never fails:
	// a transient network issue must not block a rebuild, so the hardcoded
	// last-known-good version is the final fallback.
	Resolve(ctx context.Context) string
}

// Resolver resolves the latest version with a fallback chain:
// primary text endpoint → download listing scrape → hardcoded default.
type Resolver struct {
	downloader *Downloader
	primaryURL string
	listingURL string
	fallback   string
	log        logger.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPrimaryURL overrides the primary version endpoint.
func WithPrimaryURL(url string) ResolverOption {
	return func(r *Resolver) { r.primaryURL = url }
}

// WithListingURL overrides the download listing page.
func WithListingURL(url string) ResolverOption {
	return func(r *Resolver) { r.listingURL = url }
}

// WithFallbackVersion overrides the hardcoded last-known-good version.
func WithFallbackVersion(version string) ResolverOption {
	return func(r *Resolver) {
		if IsValidVersion(version) {
			r.fallback = version
		}
	}
}

// NewResolver creates a Resolver using the given downloader.
func NewResolver(downloader *Downloader, log logger.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	r := &Resolver{
		downloader: downloader,
		primaryURL: primaryVersionURL,
		listingURL: listingURL,
		fallback:   DefaultFallbackVersion,
		log:        log,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the latest version, trying each source in turn. Malformed
// candidates are discarded and the next source tried.
func (r *Resolver) Resolve(ctx context.Context) string {
	if v, ok := r.resolvePrimary(ctx); ok {
		return v
	}

	if v, ok := r.resolveListing(ctx); ok {
		return v
	}

	r.log.Error("all version sources failed, using last-known-good fallback",
		"fallback", r.fallback,
	)

	return r.fallback
}

// resolvePrimary queries the plain-text version endpoint. The response's first
// line is the current stable version.
func (r *Resolver) resolvePrimary(ctx context.Context) (string, bool) {
	body, err := r.downloader.DownloadToString(ctx, r.primaryURL)
	if err != nil {
		r.log.Info("primary version source failed", "url", r.primaryURL, "error", err)

		return "", false
	}

	line, _, _ := strings.Cut(strings.TrimSpace(body), "\n")
	line = strings.TrimSpace(line)

	if !IsValidVersion(line) {
		r.log.Info("primary version source returned malformed version", "got", line)

		return "", false
	}

	return line, true
}

// resolveListing scrapes the download listing page for the first version
// string that validates.
func (r *Resolver) resolveListing(ctx context.Context) (string, bool) {
	body, err := r.downloader.DownloadToString(ctx, r.listingURL)
	if err != nil {
		r.log.Info("listing version source failed", "url", r.listingURL, "error", err)

		return "", false
	}

	for _, candidate := range listingPattern.FindAllString(body, -1) {
		if IsValidVersion(candidate) {
			return candidate, true
		}
	}

	r.log.Info("listing version source contained no valid version")

	return "", false
}
