// Package restyfetcher implements qa.Getter using go-resty.
package restyfetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// Config controls the resty client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements qa.Getter with a shared resty client.
type Fetcher struct {
	client *resty.Client
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Fetcher{client: client}
}

// Get executes a single HTTP GET. Non-2xx responses are returned with their
// status code rather than as errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (qa.Response, error) {
	res, err := f.client.R().
		SetContext(ctx).
		Get(rawURL)
	if err != nil {
		return qa.Response{}, fmt.Errorf("resty get: %w", err)
	}
	return qa.Response{
		StatusCode: res.StatusCode(),
		Body:       res.Body(),
	}, nil
}
