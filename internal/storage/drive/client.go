// Package drive talks to a drive-style HTTP archive API: one files endpoint
// that creates regular files from base64 content and folders via a folder
// MIME type.
package drive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	folderMimeType  = "application/vnd.google-apps.folder"
	defaultMimeType = "application/octet-stream"
)

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type createRequest struct {
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateFile(ctx context.Context, parentID, name string, content []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	return c.doCreate(ctx, createRequest{
		ParentID: parentID,
		Name:     name,
		MimeType: mimeType,
		Content:  base64.StdEncoding.EncodeToString(content),
	})
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return c.doCreate(ctx, createRequest{
		ParentID: parentID,
		Name:     name,
		MimeType: folderMimeType,
	})
}

func (c *Client) doCreate(ctx context.Context, payload createRequest) (string, error) {
	if c == nil {
		return "", fmt.Errorf("drive client is nil")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := c.baseURL + "/v1/files"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return "", err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return "", waitErr
				}
				continue
			}
			return "", err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return "", readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			var created createResponse
			if err := json.Unmarshal(respBody, &created); err != nil {
				return "", fmt.Errorf("decode drive response: %w", err)
			}
			if created.ID == "" {
				return "", fmt.Errorf("drive response missing id")
			}
			return created.ID, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return "", waitErr
			}
			continue
		}

		errCode := ""
		errMessage := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if code, ok := parsed["code"].(string); ok {
				errCode = code
			}
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				errMessage = message
			}
		}
		if errCode != "" {
			return "", fmt.Errorf("drive create failed: status=%d code=%s message=%s", resp.StatusCode, errCode, errMessage)
		}
		return "", fmt.Errorf("drive create failed: status=%d message=%s", resp.StatusCode, errMessage)
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
