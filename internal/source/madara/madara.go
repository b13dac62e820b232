// Package madara scrapes sites built on the Madara WordPress theme, such as
// MangaOnline.
package madara

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Defaults for MangaOnline.
const (
	DefaultBaseURL = "https://mangasonline.blog"
	DefaultName    = "MangaOnline"
)

// Config controls the scraper.
type Config struct {
	Name      string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Connector scrapes a Madara site with colly. Manga and chapter IDs are the
// absolute page URLs.
type Connector struct {
	name          string
	baseURL       string
	baseCollector *colly.Collector
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// New builds a connector. A nil transport uses http.DefaultTransport.
func New(cfg Config, transport http.RoundTripper) *Connector {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if transport != nil {
		c.WithTransport(transport)
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Connector{
		name:          cfg.Name,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		baseCollector: c,
	}
}

// Name implements manga.Connector.
func (c *Connector) Name() string { return c.name }

// Search implements manga.Connector.
func (c *Connector) Search(ctx context.Context, query string) ([]manga.Ref, error) {
	q := url.Values{}
	q.Set("s", query)
	q.Set("post_type", "wp-manga")

	var refs []manga.Ref
	seen := map[string]bool{}
	collector := c.baseCollector.Clone()
	collector.OnHTML(".post-title a", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		refs = append(refs, manga.Ref{ID: link, Title: strings.TrimSpace(e.Text), Source: c.name})
	})
	if err := c.run(ctx, collector, c.baseURL+"/?"+q.Encode()); err != nil {
		return nil, fmt.Errorf("%s search: %w", c.name, err)
	}
	return refs, nil
}

// ListChapters implements manga.Connector. Madara lists newest first, so the
// result is reversed into ascending order.
func (c *Connector) ListChapters(ctx context.Context, ref manga.Ref) ([]manga.ChapterRef, error) {
	title := ref.Title
	var chapters []manga.ChapterRef
	collector := c.baseCollector.Clone()
	collector.OnHTML(".post-title h1", func(e *colly.HTMLElement) {
		if t := strings.TrimSpace(e.Text); t != "" {
			title = t
		}
	})
	collector.OnHTML(".wp-manga-chapter a", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		label := strings.TrimSpace(e.Text)
		number := numberPattern.FindString(label)
		if number == "" {
			number = label
		}
		chapters = append(chapters, manga.ChapterRef{ID: link, Number: number})
	})
	if err := c.run(ctx, collector, ref.ID); err != nil {
		return nil, fmt.Errorf("%s chapters: %w", c.name, err)
	}
	slices.Reverse(chapters)
	for i := range chapters {
		chapters[i].Title = title
	}
	return chapters, nil
}

// ListPages implements manga.Connector. Lazy-loaded images carry the real
// address in data-src.
func (c *Connector) ListPages(ctx context.Context, chapter manga.ChapterRef) ([]manga.ImageRef, error) {
	header := http.Header{}
	header.Set("Referer", c.baseURL+"/")

	var pages []manga.ImageRef
	collector := c.baseCollector.Clone()
	collector.OnHTML(".reading-content img", func(e *colly.HTMLElement) {
		src := strings.TrimSpace(e.Attr("data-src"))
		if src == "" {
			src = strings.TrimSpace(e.Attr("src"))
		}
		if src == "" {
			return
		}
		pages = append(pages, manga.ImageRef{
			Index:  len(pages),
			URL:    e.Request.AbsoluteURL(src),
			Header: header,
		})
	})
	if err := c.run(ctx, collector, chapter.ID); err != nil {
		return nil, fmt.Errorf("%s pages: %w", c.name, err)
	}
	return pages, nil
}

func (c *Connector) run(ctx context.Context, collector *colly.Collector, target string) error {
	var status int
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("visit canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		var alreadyVisited *colly.AlreadyVisitedError
		if errors.As(err, &alreadyVisited) {
			return nil
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return fmt.Errorf("%w: %s returned %d", manga.ErrJobFatal, target, status)
		}
		return fmt.Errorf("%w: %v", manga.ErrProviderUnavailable, err)
	}
}
