package daily

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
)

const (
	requestTimeout = 5 * time.Second
	maxElapsed     = 15 * time.Second
)

// SourceClient lists cloud recordings and resolves their download links
type SourceClient interface {
	ListRecordings(ctx context.Context, room string, limit int) ([]model.Recording, error)
	GetAccessLink(ctx context.Context, id string) (string, error)
}

type recordingsResponse struct {
	Data []struct {
		ID       string `json:"id"`
		RoomName string `json:"room_name"`
		StartTS  int64  `json:"start_ts"`
		Duration int64  `json:"duration"`
	} `json:"data"`
}

type accessLinkResponse struct {
	DownloadLink string `json:"download_link"`
}

// client implements SourceClient against the Daily REST API
type client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	maxElapsed time.Duration
	log        *logger.Logger
}

// Option customizes a client
type Option func(*client)

// WithHTTPClient replaces the default HTTP client (5s timeout)
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) { cl.httpClient = c }
}

// WithMaxElapsed bounds the total retry time
func WithMaxElapsed(d time.Duration) Option {
	return func(cl *client) { cl.maxElapsed = d }
}

// WithLogger sets the logger
func WithLogger(log *logger.Logger) Option {
	return func(cl *client) { cl.log = log }
}

// NewClient creates a Daily client. An empty API key is a configuration error.
func NewClient(apiKey, apiURL string, opts ...Option) (SourceClient, error) {
	if apiKey == "" {
		return nil, errors.New(errors.CodeConfiguration, "Daily API key not configured in server environment")
	}
	c := &client{
		apiKey:     apiKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		maxElapsed: maxElapsed,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("client", "daily")
	return c, nil
}

// ListRecordings returns recordings for room (all rooms when empty), newest-first as the API returns them
func (c *client) ListRecordings(ctx context.Context, room string, limit int) ([]model.Recording, error) {
	params := url.Values{}
	if room != "" {
		params.Set("room_name", room)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	endpoint := c.apiURL + "/recordings"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var resp recordingsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "failed to fetch recordings")
	}

	recordings := make([]model.Recording, 0, len(resp.Data))
	for _, r := range resp.Data {
		completed := time.Unix(r.StartTS, 0).Add(time.Duration(r.Duration) * time.Second)
		recordings = append(recordings, model.Recording{
			ID:          r.ID,
			RoomName:    r.RoomName,
			CompletedAt: completed.UTC(),
		})
	}
	c.log.WithField("count", len(recordings)).Debug("fetched recordings")
	return recordings, nil
}

// GetAccessLink resolves a temporary download link for the recording
func (c *client) GetAccessLink(ctx context.Context, id string) (string, error) {
	endpoint := fmt.Sprintf("%s/recordings/%s/access-link", c.apiURL, url.PathEscape(id))

	var resp accessLinkResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, "failed to get recording access link")
	}
	if resp.DownloadLink == "" {
		return "", errors.New(errors.CodeExternal, "access link response had no download_link")
	}
	return resp.DownloadLink, nil
}

// getJSON retries transport errors and 5xx; 4xx is permanent
func (c *client) getJSON(ctx context.Context, endpoint string, target interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.WithError(err).Debug("daily request failed; retrying")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("return code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("return code %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}
		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %w", err))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
