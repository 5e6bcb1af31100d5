package hoster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HTTPClient talks to a sharehoster-style file API: token login, file-info
// lookup and ranged content streaming.
type HTTPClient struct {
	baseURL  *url.URL
	username string
	password string

	// api has an overall timeout; stream must not, a download body outlives
	// any fixed deadline. The request context bounds streaming instead.
	api    *http.Client
	stream *http.Client

	mu    sync.Mutex
	token string
}

func NewHTTPClient(rawURL, username, password string, timeout time.Duration) (*HTTPClient, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse hoster url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		api:      &http.Client{Timeout: timeout},
		stream:   &http.Client{},
	}, nil
}

var _ Client = (*HTTPClient)(nil)

type fileInfoResp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type loginResp struct {
	Token string `json:"token"`
}

func (c *HTTPClient) GetFileInfo(ctx context.Context, link string) (*FileInfo, error) {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return nil, fmt.Errorf("link %q: %w", link, ErrUnsupportedLink)
	}

	u := c.endpoint("/api/files/info")
	q := u.Query()
	q.Set("link", link)
	u.RawQuery = q.Encode()

	var info fileInfoResp
	if err := c.authorized(ctx, "file_info", func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return c.api.Do(req)
	}, &info); err != nil {
		return nil, err
	}
	return &FileInfo{ID: info.ID, Name: info.Name, Size: info.Size}, nil
}

func (c *HTTPClient) OpenStream(ctx context.Context, fileID string, offset int64) (io.ReadCloser, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	u := c.endpoint("/api/files/" + url.PathEscape(fileID) + "/content")
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := c.stream.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransientError{Op: "open_stream", Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusPartialContent:
			return resp.Body, nil
		case resp.StatusCode == http.StatusOK:
			if offset > 0 {
				// the Range header was ignored; this body starts at byte
				// zero, not at offset
				_ = resp.Body.Close()
				return nil, ErrResumeUnsupported
			}
			return resp.Body, nil
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			_ = resp.Body.Close()
			if token, err = c.relogin(ctx, token); err != nil {
				return nil, err
			}
			continue
		default:
			defer func() { _ = resp.Body.Close() }()
			return nil, c.statusError("open_stream", resp)
		}
	}
}

// authorized runs an API call with the cached session token, retrying once
// through a re-login when the token is rejected.
func (c *HTTPClient) authorized(ctx context.Context, op string, do func(token string) (*http.Response, error), out any) error {
	token, err := c.session(ctx)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		resp, err := do(token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransientError{Op: op, Err: err}
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_ = resp.Body.Close()
			if token, err = c.relogin(ctx, token); err != nil {
				return err
			}
			continue
		}

		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return c.statusError(op, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}
}

// session returns the cached token, logging in on first use.
func (c *HTTPClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	return c.loginLocked(ctx)
}

// relogin discards stale and fetches a fresh token. When another goroutine
// already replaced the token, that one is used without a second login.
func (c *HTTPClient) relogin(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.token != stale {
		return c.token, nil
	}
	c.token = ""
	return c.loginLocked(ctx)
}

func (c *HTTPClient) loginLocked(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/login").String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransientError{Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError("login", resp)
	}

	var lr loginResp
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", &TransientError{Op: "login", Err: fmt.Errorf("decode login response: %w", err)}
	}
	if lr.Token == "" {
		return "", ErrAuthExpired
	}
	c.token = lr.Token
	return c.token, nil
}

func (c *HTTPClient) statusError(op string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthExpired
	case http.StatusNotFound, http.StatusGone:
		return ErrFileMissing
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case http.StatusUnprocessableEntity:
		return ErrUnsupportedLink
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransientError{Op: op, Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(b))}
	}
}

func (c *HTTPClient) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return &u
}
