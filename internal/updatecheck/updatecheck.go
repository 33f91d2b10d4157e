// Package updatecheck tells the user when a newer release is available.
//
// The latest version is looked up at most once per interval; in between the
// answer comes from a small cache file in the temp directory.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/remote"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultURL      = "https://aemfed.io/latest"
	DefaultDistTag  = "latest"
	DefaultInterval = 24 * time.Hour
	requestTimeout  = 2 * time.Second
)

// Config configures a Checker.
type Config struct {
	Name     string
	URL      string
	DistTag  string
	Interval time.Duration
	// CacheDir defaults to $TMPDIR/update-check.
	CacheDir string
}

// Update describes a newer release.
type Update struct {
	Current   string
	Latest    string
	FromCache bool
}

// Message is the line shown to the user.
func (u *Update) Message() string {
	return fmt.Sprintf("Update available: %s (current %s). Download it from https://github.com/conneroisu/aemfed/releases", u.Latest, u.Current)
}

type cacheFile struct {
	Latest     string `json:"latest"`
	LastUpdate int64  `json:"lastUpdate"`
}

// Checker looks up the latest release.
type Checker struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// New creates a checker. client may be nil.
func New(cfg Config, client *http.Client) *Checker {
	if cfg.Name == "" {
		cfg.Name = "aemfed"
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.DistTag == "" {
		cfg.DistTag = DefaultDistTag
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "update-check")
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Checker{cfg: cfg, client: client, now: time.Now}
}

// CachePath returns the cache file location.
func (c *Checker) CachePath() string {
	return filepath.Join(c.cfg.CacheDir, c.cfg.Name+"-"+c.cfg.DistTag+".json")
}

// Check returns the newer release, or nil when current is up to date or
// is not a release version.
func (c *Checker) Check(ctx context.Context, current string) (*Update, error) {
	now := c.now()
	latest, fromCache := c.cached(now)
	if !fromCache {
		var err error
		latest, err = c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(latest, now)
	}

	newer, err := IsNewer(current, latest)
	if err != nil || !newer {
		return nil, nil
	}
	return &Update{Current: current, Latest: latest, FromCache: fromCache}, nil
}

func (c *Checker) cached(now time.Time) (string, bool) {
	data, err := os.ReadFile(c.CachePath())
	if err != nil {
		return "", false
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil || cf.Latest == "" {
		return "", false
	}
	next := time.UnixMilli(cf.LastUpdate).Add(c.cfg.Interval)
	if !next.After(now) {
		return "", false
	}
	return cf.Latest, true
}

// store writes the cache. A failure only means the next start checks again.
func (c *Checker) store(latest string, now time.Time) {
	data, err := json.Marshal(cacheFile{Latest: latest, LastUpdate: now.UnixMilli()})
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.cfg.CacheDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(c.CachePath(), data, 0o644)
}

func (c *Checker) fetch(ctx context.Context) (string, error) {
	var tags map[string]string
	if err := remote.GetJSON(ctx, c.client, c.cfg.URL, &tags); err != nil {
		return "", err
	}
	latest, ok := tags[c.cfg.DistTag]
	if !ok || latest == "" {
		return "", errors.NewParseError("ERR_DIST_TAG", fmt.Sprintf("distribution tag '%s' is not available", c.cfg.DistTag))
	}
	return latest, nil
}

// IsNewer reports whether latest is a higher semantic version than current.
func IsNewer(current, latest string) (bool, error) {
	cv, err := semver.NewVersion(current)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeParse, "ERR_VERSION", "invalid version "+current)
	}
	lv, err := semver.NewVersion(latest)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeParse, "ERR_VERSION", "invalid version "+latest)
	}
	return lv.GreaterThan(cv), nil
}
