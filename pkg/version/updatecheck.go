package version

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmux/agentmux/pkg/store"
)

// UpdateCheckFile is the relative path of the cached upstream check.
const UpdateCheckFile = "update-check.json"

// DefaultUpdateCheckTTL is how long a cached upstream result stays fresh.
const DefaultUpdateCheckTTL = 24 * time.Hour

// defaultReleaseURL is the upstream endpoint queried for the latest
// release tag.
const defaultReleaseURL = "https://api.github.com/repos/agentmux/agentmux/releases/latest"

// UpdateCheck is the cached result of an upstream version query.
type UpdateCheck struct {
	Latest    string    `json:"latest"`
	Current   string    `json:"current"`
	CheckedAt time.Time `json:"checked_at"`
}

// Stale reports whether the cached result is older than the TTL.
func (u UpdateCheck) Stale(ttl time.Duration) bool {
	return time.Since(u.CheckedAt) >= ttl
}

// Checker queries upstream for newer releases, caching the result in the
// state directory so restarts inside the TTL never hit the network.
type Checker struct {
	store      *store.Store
	client     *http.Client
	releaseURL string
	ttl        time.Duration
	logger     *slog.Logger
}

// NewChecker creates an update checker with the default endpoint and TTL.
func NewChecker(st *store.Store) *Checker {
	return &Checker{
		store:      st,
		client:     &http.Client{Timeout: 10 * time.Second},
		releaseURL: defaultReleaseURL,
		ttl:        DefaultUpdateCheckTTL,
		logger:     slog.Default().With("component", "update-checker"),
	}
}

// Check returns the latest known upstream version, refreshing the cache
// when it is stale. Network failures fall back to the cached value.
func (c *Checker) Check(ctx context.Context) (UpdateCheck, error) {
	cached, err := store.ReadJSON(c.store, UpdateCheckFile, UpdateCheck{})
	if err != nil {
		return UpdateCheck{}, err
	}
	if cached.Latest != "" && !cached.Stale(c.ttl) {
		return cached, nil
	}

	latest, err := c.fetchLatest(ctx)
	if err != nil {
		if cached.Latest != "" {
			c.logger.Warn("Upstream version check failed, using cached result", "error", err)
			return cached, nil
		}
		return UpdateCheck{}, err
	}

	result := UpdateCheck{
		Latest:    latest,
		Current:   Full(),
		CheckedAt: time.Now(),
	}
	if err := c.store.AtomicWriteJSON(UpdateCheckFile, result); err != nil {
		c.logger.Warn("Failed to cache update check", "error", err)
	}
	return result, nil
}

func (c *Checker) fetchLatest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", Full())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying upstream releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream release query returned %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decoding release response: %w", err)
	}
	if release.TagName == "" {
		return "", fmt.Errorf("upstream release response has no tag")
	}
	return release.TagName, nil
}
