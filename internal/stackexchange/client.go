// Package stackexchange fetches questions and answers from the Stack Exchange API.
package stackexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/metrics"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.stackexchange.com/2.3"

// MaxIDsPerRequest is the API's hard limit on vectorized ID lists.
const MaxIDsPerRequest = 100

const (
	endpointQuestions = "questions"
	endpointAnswers   = "answers"
)

// ErrDecode marks a response body that could not be decoded.
var ErrDecode = errors.New("decode api response")

// Config holds the query parameters and limits used against the API.
type Config struct {
	BaseURL string
	Site    string
	Tag     string
	Filter  string
	Sort    string
	Order   string
	// Key is an optional application key; it raises the daily quota.
	Key string
	// Delay is the fixed pause between consecutive answer requests.
	Delay time.Duration
	// AnswerPageSize is the pagesize sent with answer requests.
	AnswerPageSize int
	// MaxAnswerPages bounds how many has_more pages are followed per ID group.
	MaxAnswerPages int
	// AnswerQuotaFloor stops answer retrieval once quota drops below it.
	AnswerQuotaFloor int
	// IDsPerRequest is capped at MaxIDsPerRequest.
	IDsPerRequest int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Site == "" {
		c.Site = "stackoverflow"
	}
	if c.Tag == "" {
		c.Tag = "nlp"
	}
	if c.Filter == "" {
		c.Filter = "withbody"
	}
	if c.Sort == "" {
		c.Sort = "votes"
	}
	if c.Order == "" {
		c.Order = "desc"
	}
	if c.AnswerPageSize <= 0 {
		c.AnswerPageSize = 100
	}
	if c.MaxAnswerPages <= 0 {
		c.MaxAnswerPages = 1
	}
	if c.IDsPerRequest <= 0 || c.IDsPerRequest > MaxIDsPerRequest {
		c.IDsPerRequest = MaxIDsPerRequest
	}
	return c
}

// Client implements qa.QuestionFetcher and qa.AnswerFetcher.
type Client struct {
	getter  qa.Getter
	sleeper qa.Sleeper
	cleaner qa.Cleaner
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Client.
func New(getter qa.Getter, sleeper qa.Sleeper, cleaner qa.Cleaner, cfg Config, logger *zap.Logger) (*Client, error) {
	if getter == nil {
		return nil, fmt.Errorf("getter is required")
	}
	if sleeper == nil {
		return nil, fmt.Errorf("sleeper is required")
	}
	if cleaner == nil {
		return nil, fmt.Errorf("cleaner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		getter:  getter,
		sleeper: sleeper,
		cleaner: cleaner,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}, nil
}

// envelope is the common wrapper around every API response.
type envelope[T any] struct {
	Items          []T    `json:"items"`
	QuotaRemaining int    `json:"quota_remaining"`
	QuotaMax       int    `json:"quota_max"`
	HasMore        bool   `json:"has_more"`
	Backoff        int    `json:"backoff"`
	ErrorID        int    `json:"error_id"`
	ErrorName      string `json:"error_name"`
	ErrorMessage   string `json:"error_message"`
}

func (c *Client) baseParams() url.Values {
	params := url.Values{}
	params.Set("site", c.cfg.Site)
	params.Set("order", c.cfg.Order)
	params.Set("sort", c.cfg.Sort)
	params.Set("filter", c.cfg.Filter)
	if c.cfg.Key != "" {
		params.Set("key", c.cfg.Key)
	}
	return params
}

func (c *Client) get(ctx context.Context, endpoint, rawURL string) (qa.Response, error) {
	start := time.Now()
	resp, err := c.getter.Get(ctx, rawURL)
	if err != nil {
		metrics.ObserveAPIRequest(endpoint, 0, time.Since(start))
		return qa.Response{}, fmt.Errorf("get %s: %w", endpoint, err)
	}
	metrics.ObserveAPIRequest(endpoint, resp.StatusCode, time.Since(start))
	return resp, nil
}

// logAPIError reports a non-success response; the body usually carries error_name/error_message.
func (c *Client) logAPIError(msg string, resp qa.Response, fields ...zap.Field) {
	fields = append(fields, zap.Int("status", resp.StatusCode))
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(resp.Body, &env); err == nil && env.ErrorName != "" {
		fields = append(fields,
			zap.Int("error_id", env.ErrorID),
			zap.String("error_name", env.ErrorName),
			zap.String("error_message", env.ErrorMessage),
		)
	}
	c.logger.Warn(msg, fields...)
}

func decode[T any](body []byte) (envelope[T], error) {
	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope[T]{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return env, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}

func backoff(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
