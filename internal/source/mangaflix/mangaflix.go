// Package mangaflix implements a connector for the MangaFlix JSON API.
package mangaflix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/source"
)

// Defaults for the public deployment.
const (
	DefaultBaseURL  = "https://api.mangaflix.net/v1"
	DefaultLanguage = "pt-br"
	DefaultReferer  = "https://mangaflix.net/"
	Name            = "MangaFlix"
)

// Config customises endpoints, mostly for tests.
type Config struct {
	BaseURL   string
	Language  string
	Referer   string
	UserAgent string
}

// Connector talks to the MangaFlix API.
type Connector struct {
	client   *source.Client
	baseURL  string
	language string
	referer  string
}

// New builds a connector. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	return &Connector{
		client: &source.Client{
			HTTP:      httpClient,
			UserAgent: cfg.UserAgent,
			Referer:   cfg.Referer,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
		referer:  cfg.Referer,
	}
}

// Name implements manga.Connector.
func (c *Connector) Name() string { return Name }

type searchResponse struct {
	Data []struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	} `json:"data"`
}

type mangaResponse struct {
	Data struct {
		Name     string `json:"name"`
		Chapters []struct {
			ID     string        `json:"_id"`
			Number source.Number `json:"number"`
		} `json:"chapters"`
	} `json:"data"`
}

type chapterResponse struct {
	Data struct {
		Images []struct {
			DefaultURL string `json:"default_url"`
		} `json:"images"`
	} `json:"data"`
}

// Search implements manga.Connector.
func (c *Connector) Search(ctx context.Context, query string) ([]manga.Ref, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("selected_language", c.language)

	var resp searchResponse
	if err := c.client.GetJSON(ctx, c.baseURL+"/search/mangas?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("mangaflix search: %w", err)
	}
	refs := make([]manga.Ref, 0, len(resp.Data))
	for _, m := range resp.Data {
		if m.ID == "" {
			continue
		}
		refs = append(refs, manga.Ref{ID: m.ID, Title: strings.TrimSpace(m.Name), Source: Name})
	}
	return refs, nil
}

// ListChapters implements manga.Connector.
func (c *Connector) ListChapters(ctx context.Context, ref manga.Ref) ([]manga.ChapterRef, error) {
	var resp mangaResponse
	endpoint := fmt.Sprintf("%s/mangas/%s?selected_language=%s",
		c.baseURL, url.PathEscape(ref.ID), url.QueryEscape(c.language))
	if err := c.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("mangaflix chapters: %w", err)
	}
	title := strings.TrimSpace(resp.Data.Name)
	if title == "" {
		title = ref.Title
	}
	chapters := make([]manga.ChapterRef, 0, len(resp.Data.Chapters))
	for _, ch := range resp.Data.Chapters {
		if ch.ID == "" {
			continue
		}
		chapters = append(chapters, manga.ChapterRef{ID: ch.ID, Number: string(ch.Number), Title: title})
	}
	return chapters, nil
}

// ListPages implements manga.Connector.
func (c *Connector) ListPages(ctx context.Context, chapter manga.ChapterRef) ([]manga.ImageRef, error) {
	var resp chapterResponse
	endpoint := fmt.Sprintf("%s/chapters/%s?selected_language=%s",
		c.baseURL, url.PathEscape(chapter.ID), url.QueryEscape(c.language))
	if err := c.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("mangaflix pages: %w", err)
	}
	header := http.Header{}
	header.Set("Referer", c.referer)

	pages := make([]manga.ImageRef, 0, len(resp.Data.Images))
	for _, img := range resp.Data.Images {
		u := strings.TrimSpace(img.DefaultURL)
		if u == "" {
			continue
		}
		pages = append(pages, manga.ImageRef{Index: len(pages), URL: u, Header: header})
	}
	return pages, nil
}
