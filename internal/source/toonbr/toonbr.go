// Package toonbr implements a connector for the ToonBr JSON API.
package toonbr

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
	DefaultBaseURL = "https://api.toonbr.com"
	DefaultCDNURL  = "https://cdn2.toonbr.com"
	Name           = "ToonBr"
)

// Config customises endpoints.
type Config struct {
	BaseURL   string
	CDNURL    string
	UserAgent string
}

// Connector talks to the ToonBr API.
type Connector struct {
	client  *source.Client
	baseURL string
	cdnURL  string
}

// New builds a connector.
func New(cfg Config, httpClient *http.Client) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CDNURL == "" {
		cfg.CDNURL = DefaultCDNURL
	}
	return &Connector{
		client:  &source.Client{HTTP: httpClient, UserAgent: cfg.UserAgent},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cdnURL:  strings.TrimRight(cfg.CDNURL, "/"),
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
	Name     string `json:"name"`
	Chapters []struct {
		ID     string        `json:"_id"`
		Number source.Number `json:"number"`
	} `json:"chapters"`
}

type chapterResponse struct {
	Pages []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"pages"`
}

// Search implements manga.Connector.
func (c *Connector) Search(ctx context.Context, query string) ([]manga.Ref, error) {
	var resp searchResponse
	endpoint := c.baseURL + "/api/manga?search=" + url.QueryEscape(query)
	if err := c.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("toonbr search: %w", err)
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
	if err := c.client.GetJSON(ctx, c.baseURL+"/api/manga/"+url.PathEscape(ref.ID), &resp); err != nil {
		return nil, fmt.Errorf("toonbr chapters: %w", err)
	}
	title := strings.TrimSpace(resp.Name)
	if title == "" {
		title = ref.Title
	}
	chapters := make([]manga.ChapterRef, 0, len(resp.Chapters))
	for _, ch := range resp.Chapters {
		if ch.ID == "" {
			continue
		}
		chapters = append(chapters, manga.ChapterRef{ID: ch.ID, Number: string(ch.Number), Title: title})
	}
	return chapters, nil
}

// ListPages implements manga.Connector. Relative image paths resolve against
// the CDN.
func (c *Connector) ListPages(ctx context.Context, chapter manga.ChapterRef) ([]manga.ImageRef, error) {
	var resp chapterResponse
	if err := c.client.GetJSON(ctx, c.baseURL+"/api/chapter/"+url.PathEscape(chapter.ID), &resp); err != nil {
		return nil, fmt.Errorf("toonbr pages: %w", err)
	}
	pages := make([]manga.ImageRef, 0, len(resp.Pages))
	for _, p := range resp.Pages {
		u := c.resolve(p.ImageURL)
		if u == "" {
			continue
		}
		pages = append(pages, manga.ImageRef{Index: len(pages), URL: u})
	}
	return pages, nil
}

func (c *Connector) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	default:
		return c.cdnURL + "/" + strings.TrimLeft(ref, "/")
	}
}
