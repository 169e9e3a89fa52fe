package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-syscapture/internal/types"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

const (
	githubRepo           = "oszuidwest/zwfm-syscapture"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second
	versionCheckTimeout  = 30 * time.Second
	versionMaxAttempts   = 3
)

// errReleaseUnavailable marks check failures worth retrying within a cycle.
var errReleaseUnavailable = errors.New("release information unavailable")

// githubRelease is the subset of the GitHub release payload we read.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// VersionChecker polls GitHub for the latest release. It is safe for concurrent use.
type VersionChecker struct {
	client  *http.Client
	baseURL string
	retry   *util.Backoff

	mu     sync.RWMutex
	latest string
	etag   string

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewVersionChecker creates a checker for the project's GitHub releases.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		client:  &http.Client{Timeout: versionCheckTimeout},
		baseURL: "https://api.github.com",
		retry:   util.NewBackoff(time.Minute, 10*time.Minute),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the background checks, the first after a short delay.
func (vc *VersionChecker) Start() {
	go vc.run()
}

// Stop ends the background checks. It is safe to call more than once.
func (vc *VersionChecker) Stop() {
	vc.stopOnce.Do(func() { close(vc.stopCh) })
}

func (vc *VersionChecker) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := versionCheckDelay
	for {
		timer := time.NewTimer(wait)
		select {
		case <-vc.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		vc.cycle()
		wait = versionCheckInterval
	}
}

// cycle runs one check, retrying transient failures with backoff.
func (vc *VersionChecker) cycle() {
	vc.retry.Reset()
	for attempt := 1; ; attempt++ {
		err := vc.check(context.Background())
		if err == nil {
			return
		}
		if !errors.Is(err, errReleaseUnavailable) || attempt == versionMaxAttempts {
			slog.Debug("version check failed", "error", err, "attempt", attempt)
			return
		}

		timer := time.NewTimer(vc.retry.Next())
		select {
		case <-vc.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check fetches the latest release. Errors wrapping errReleaseUnavailable
// are transient; a missing repository or draft release is not an error.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		vc.baseURL+"/repos/"+githubRepo+"/releases/latest", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-syscapture/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errReleaseUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errReleaseUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("%w: decode release: %w", errReleaseUnavailable, err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return fmt.Errorf("%w: release without tag", errReleaseUnavailable)
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	vc.mu.Unlock()
	return nil
}

// Info returns the running and latest known versions.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    latest,
		Commit:    Commit,
		BuildTime: formatBuildTime(BuildTime),
	}
	if latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is a higher semver than current.
// Both may omit the leading "v".
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}

// formatBuildTime formats an RFC 3339 build timestamp for display.
func formatBuildTime(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return util.HumanTime(t)
}
