package predict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const (
	// FrameField is the multipart field carrying the encoded frame.
	FrameField = "frame"
	// FrameFilename is the filename sent with the frame part.
	FrameFilename = "frame.jpg"

	defaultMaxResponse = 4 << 20
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("prediction API returned status %d", e.Code)
	}
	return fmt.Sprintf("prediction API returned status %d: %s", e.Code, e.Body)
}

// Client posts frames to the prediction backend.
type Client struct {
	base        *url.URL
	http        *http.Client
	maxResponse int64
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// NewClient creates a client for the backend at cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid predictor base URL %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxResponse := cfg.MaxResponseBytes
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponse
	}
	return &Client{
		base:        base,
		http:        &http.Client{Timeout: timeout},
		maxResponse: maxResponse,
	}, nil
}

// Resolve returns the absolute URL for an endpoint path.
func (c *Client) Resolve(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

// Predict uploads one encoded frame plus extra form fields and returns the raw
// response body.
func (c *Client) Predict(ctx context.Context, endpoint string, frame []byte, extra map[string]string) ([]byte, error) {
	target, err := c.Resolve(endpoint)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeForm(frame, extra)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach prediction API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	return data, nil
}

func encodeForm(frame []byte, extra map[string]string) (*bytes.Buffer, string, error) {
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)

	part, err := mw.CreateFormFile(FrameField, FrameFilename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create frame part: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, "", fmt.Errorf("failed to write frame part: %w", err)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, extra[k]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}
