package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// Client is an authenticated PhotoPrism API client implementing Source.
type Client struct {
	apiURL    string
	parsedURL *url.URL

	token         string
	downloadToken string

	httpClient *http.Client

	thumbSize string
	pageSize  int
	retries   int
}

// NewClient authenticates against the backend and returns a ready client.
func NewClient(cfg *config.Config) (*Client, error) {
	apiURL := cfg.Source.URL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	c := &Client{
		apiURL:    apiURL,
		parsedURL: parsed,
		httpClient: &http.Client{
			Timeout: cfg.Scan.FetchTimeout,
		},
		thumbSize: thumbSizeName(cfg.Source.ThumbSize),
		pageSize:  cfg.Scan.PageSize,
		retries:   cfg.Scan.FetchRetries,
	}
	if c.pageSize <= 0 {
		c.pageSize = constants.DefaultPageSize
	}

	if err := c.auth(cfg.Source.Username, cfg.Source.Password); err != nil {
		return nil, fmt.Errorf("could not authenticate: %w", err)
	}
	return c, nil
}

// resolveURL builds a full URL from the base API URL and the given path.
// A query string in the last segment is split off so JoinPath only sees
// the path portion.
func (c *Client) resolveURL(endpoint string) string {
	if pathPart, query, ok := strings.Cut(endpoint, "?"); ok {
		result := c.parsedURL.JoinPath(pathPart)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(endpoint).String()
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	Config      struct {
		DownloadToken string `json:"downloadToken"`
	} `json:"config"`
}

func (c *Client) auth(username, password string) error {
	inputBody, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("could not marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.resolveURL("sessions"), bytes.NewReader(inputBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	var result authResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}

	c.token = result.AccessToken
	c.downloadToken = result.Config.DownloadToken
	return nil
}

// ListPhotos pages through the backend until a short page signals the end,
// returning every image entry in the library.
func (c *Client) ListPhotos(ctx context.Context) ([]Photo, error) {
	var all []Photo
	offset := 0
	for {
		endpoint := fmt.Sprintf("photos?count=%d&offset=%d&order=added", c.pageSize, offset)
		page, err := doGetJSON[[]Photo](ctx, c, endpoint)
		if err != nil {
			return nil, fmt.Errorf("list photos at offset %d: %w", offset, err)
		}

		for _, p := range *page {
			// Videos and sidecar types carry no hashable pixels.
			if p.Type != "" && p.Type != "image" && p.Type != "raw" && p.Type != "live" {
				continue
			}
			all = append(all, p)
		}

		if len(*page) < c.pageSize {
			return all, nil
		}
		offset += c.pageSize
	}
}

// FetchThumbnail downloads the thumbnail for the given hash, retrying
// transient failures with exponential backoff. Permanent failures (the
// photo vanished between listing and fetch) are returned immediately.
func (c *Client) FetchThumbnail(ctx context.Context, thumbHash string) ([]byte, error) {
	var data []byte

	operation := func() error {
		var err error
		data, err = c.fetchThumbnailOnce(ctx, thumbHash)
		if err == nil {
			return nil
		}
		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) fetchThumbnailOnce(ctx context.Context, thumbHash string) ([]byte, error) {
	url := fmt.Sprintf("%s/t/%s/%s/%s", c.apiURL, thumbHash, c.downloadToken, c.thumbSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &statusError{code: resp.StatusCode, body: readErrorBody(resp.Body)}
		return nil, classifyStatus(resp.StatusCode, err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	return data, nil
}

// Logout deletes the current session.
func (c *Client) Logout() error {
	if c.token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, c.resolveURL("session"), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	c.token = ""
	c.downloadToken = ""
	return nil
}

// thumbnails the backend can serve, smallest first
var thumbSizes = []struct {
	px   int
	name string
}{
	{224, "tile_224"},
	{500, "tile_500"},
	{720, "fit_720"},
	{1280, "fit_1280"},
	{1920, "fit_1920"},
}

// thumbSizeName picks the smallest named thumbnail size covering the
// requested pixel dimension.
func thumbSizeName(px int) string {
	if px <= 0 {
		px = constants.DefaultThumbSize
	}
	for _, s := range thumbSizes {
		if s.px >= px {
			return s.name
		}
	}
	return thumbSizes[len(thumbSizes)-1].name
}
