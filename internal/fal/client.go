package fal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default endpoints and models
const (
	DefaultBaseURL        = "https://queue.fal.run"
	DefaultImageModel     = "fal-ai/flux/dev"
	DefaultFaceImageModel = "fal-ai/flux-pulid"
	DefaultVideoModel     = "fal-ai/kling-video/v2.1/standard/image-to-video"
	DefaultReferenceModel = "fal-ai/kling-video/o1/reference-to-video"
	DefaultPollInterval   = 2 * time.Second
)

const (
	maxAttempts      = 3
	defaultRetryBase = 500 * time.Millisecond
)

// ErrMissingAPIKey is returned by every generation call when no key is set.
var ErrMissingAPIKey = errors.New("FAL_KEY is not set")

// APIError is a non-success HTTP response from fal.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Sprintf("fal api error: status %d", e.Status)
	}
	return fmt.Sprintf("fal api error: status %d: %s", e.Status, body)
}

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	FaceImageModel string
	VideoModel     string
	ReferenceModel string
	PollInterval   time.Duration
	HTTPClient     *http.Client
}

// Client talks to the fal.ai queue API.
type Client struct {
	apiKey         string
	baseURL        string
	imageModel     string
	faceImageModel string
	videoModel     string
	referenceModel string
	pollInterval   time.Duration
	retryBase      time.Duration
	httpClient     *http.Client
	logger         zerolog.Logger
}

// New creates a fal client
func New(opts Options, logger zerolog.Logger) *Client {
	c := &Client{
		apiKey:         opts.APIKey,
		baseURL:        strings.TrimRight(orDefault(opts.BaseURL, DefaultBaseURL), "/"),
		imageModel:     orDefault(opts.ImageModel, DefaultImageModel),
		faceImageModel: orDefault(opts.FaceImageModel, DefaultFaceImageModel),
		videoModel:     orDefault(opts.VideoModel, DefaultVideoModel),
		referenceModel: orDefault(opts.ReferenceModel, DefaultReferenceModel),
		pollInterval:   opts.PollInterval,
		retryBase:      defaultRetryBase,
		httpClient:     opts.HTTPClient,
		logger:         logger.With().Str("component", "fal").Logger(),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c *Client) checkKey() error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// do sends one request, retrying transport errors, 429 and 5xx with
// exponential backoff.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			sleep := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryBase
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Key "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Debug().
			Str("method", method).
			Str("url", url).
			Int("attempt", attempt+1).
			Msg("fal request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("request failed, retrying")
			lastErr = err
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Int("attempt", attempt+1).Msg("api backoff")
			lastErr = &APIError{Status: resp.StatusCode, Body: string(data)}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}
		return data, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
