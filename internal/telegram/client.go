// Package telegram delivers archives and notices through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Config holds bot credentials.
type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

// Client calls sendDocument and sendMessage.
type Client struct {
	bot *bot.Bot
}

// ServerError is a 5xx reply from the Bot API or a gateway in front of it.
type ServerError struct {
	Code int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("telegram server error %d", e.Code)
}

// statusClient turns 5xx replies into errors before the bot library tries to
// decode them, so they can be told apart from API rejections.
type statusClient struct {
	http *http.Client
}

func (c statusClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, &ServerError{Code: resp.StatusCode}
	}
	return resp, nil
}

// New builds a client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	b, err := bot.New(cfg.Token,
		bot.WithSkipGetMe(),
		bot.WithServerURL(strings.TrimRight(cfg.APIURL, "/")),
		bot.WithHTTPClient(timeout, statusClient{http: httpClient}),
	)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Client{bot: b}, nil
}

// SendDocument uploads an archive to chatID.
func (c *Client) SendDocument(ctx context.Context, chatID, caption string, artifact manga.Artifact) error {
	_, err := c.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: artifact.Filename(), Data: artifact.Open()},
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// SendMessage posts a plain-text message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Classify maps Bot API failures onto the delivery taxonomy: 429 is rate
// limited, 5xx and transport failures are transient, API rejections are
// permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		retry := time.Duration(tooMany.RetryAfter) * time.Second
		if retry <= 0 {
			retry = time.Second
		}
		return fmt.Errorf("%w (%v)", &manga.RateLimitedError{RetryAfter: retry}, err)
	}
	var serverErr *ServerError
	var netErr net.Error
	if errors.As(err, &serverErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", manga.ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", manga.ErrPermanent, err)
}
