// Package fetcher downloads the images of a chapter concurrently while
// preserving page order.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/metrics"
	"github.com/JakeFAU/chapterbox/internal/retry"
)

const (
	defaultConcurrency = 8
	defaultTimeout     = 60 * time.Second
	defaultUserAgent   = "Mozilla/5.0"
	defaultAccept      = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
	defaultMaxBytes    = 32 << 20
)

// Config controls fan-out and per-image retry behavior.
type Config struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	UserAgent   string
	Accept      string
	MaxBytes    int64
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Image is one successfully downloaded page.
type Image struct {
	// Index is the page position reported by the connector.
	Index       int
	URL         string
	Data        []byte
	ContentType string
}

// Result is the compacted output of FetchAll.
type Result struct {
	Images []Image
	Failed int
}

// StatusError reports a non-2xx response. Such images are dropped, not retried.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

var (
	errTooLarge       = errors.New("image exceeds size limit")
	errBadRequest     = errors.New("invalid image request")
	errAttemptTimeout = errors.New("image request timed out")
)

// Fetcher downloads chapter images over HTTP.
type Fetcher struct {
	client  *http.Client
	limiter Waiter
	policy  retry.FixedPolicy
	cfg     Config
	logger  *zap.Logger
}

// New builds a Fetcher. client and limiter may be nil.
func New(cfg Config, client *http.Client, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Accept == "" {
		cfg.Accept = defaultAccept
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if client == nil {
		client = &http.Client{Transport: NewTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		limiter: limiter,
		policy:  retry.FixedPolicy{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay},
		cfg:     cfg,
		logger:  logger,
	}
}

// FetchAll downloads every page with bounded concurrency. The returned images
// follow the order of refs with failed pages removed.
func (f *Fetcher) FetchAll(ctx context.Context, refs []manga.ImageRef) Result {
	slots := make([]*Image, len(refs))
	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			img, err := f.fetchWithRetry(ctx, ref)
			if err != nil {
				f.logger.Debug("image dropped",
					zap.Int("index", ref.Index),
					zap.String("url", ref.URL),
					zap.Error(err),
				)
				metrics.ObserveImage(ref.URL, "failed", 0)
				return nil
			}
			metrics.ObserveImage(ref.URL, "ok", len(img.Data))
			slots[i] = &img
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	res := Result{Images: make([]Image, 0, len(refs))}
	for _, img := range slots {
		if img == nil {
			res.Failed++
			continue
		}
		res.Images = append(res.Images, *img)
	}
	return res
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, ref manga.ImageRef) (Image, error) {
	for attempt := 0; ; attempt++ {
		img, err := f.fetchOnce(ctx, ref)
		if err == nil {
			return img, nil
		}
		if !retryable(err) {
			return Image{}, err
		}
		if ctx.Err() != nil || !f.policy.ShouldRetry(err, attempt) {
			return Image{}, err
		}
		metrics.ObserveImage(ref.URL, "retried", 0)
		if sleepErr := retry.Sleep(ctx, f.policy.Backoff(attempt)); sleepErr != nil {
			return Image{}, sleepErr
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, ref manga.ImageRef) (Image, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, ref.URL); err != nil {
			return Image{}, err
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", f.cfg.Accept)
	for key, values := range ref.Header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Image{}, transportError(ctx, "get image", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for keep-alive
		return Image{}, &StatusError{Code: resp.StatusCode, URL: ref.URL}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return Image{}, transportError(ctx, "read image body", err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return Image{}, errTooLarge
	}
	return Image{
		Index:       ref.Index,
		URL:         ref.URL,
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	return !errors.Is(err, errTooLarge) && !errors.Is(err, errBadRequest)
}

// transportError keeps per-attempt timeouts retryable by hiding the deadline
// error unless the caller's own context ended.
func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, errAttemptTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewTransport returns a pooled transport tuned for many small image requests.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
