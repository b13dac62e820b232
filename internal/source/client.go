package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

const defaultUserAgent = "Mozilla/5.0"

// Client performs JSON GETs against provider APIs and maps failures onto the
// domain error taxonomy.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Referer   string
	Timeout   time.Duration
}

// GetJSON fetches rawURL and decodes the body into out.
// Transport errors, 5xx, and undecodable bodies wrap manga.ErrProviderUnavailable;
// 401 and 403 wrap manga.ErrJobFatal because the connector cannot recover.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", manga.ErrProviderUnavailable, err)
	}
	ua := c.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")
	if c.Referer != "" {
		req.Header.Set("Referer", c.Referer)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", manga.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", manga.ErrJobFatal, rawURL, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s returned %d", manga.ErrProviderUnavailable, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", manga.ErrProviderUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", manga.ErrProviderUnavailable, rawURL, err)
	}
	return nil
}
