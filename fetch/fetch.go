// Package fetch downloads the subject's avatar image from the CDN.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error reports a failed avatar download. Status is zero when the
// request itself failed before a response arrived.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to download avatar, status: %d", e.Status)
	}
	return fmt.Sprintf("failed to download avatar: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client retrieves avatar images over plain HTTPS. One retry with a
// short backoff is attempted for network errors and 5xx responses;
// 4xx responses are returned immediately.
type Client struct {
	http    *http.Client
	backoff time.Duration
}

func New() *Client {
	return &Client{
		http:    &http.Client{Timeout: 20 * time.Second},
		backoff: 2 * time.Second,
	}
}

// Fetch downloads url and returns the body bytes on a 200 response.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr *Error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
		}

		data, ferr := c.fetchOnce(ctx, url)
		if ferr == nil {
			return data, nil
		}
		lastErr = ferr
		// client errors will not heal on retry
		if ferr.Status >= 400 && ferr.Status < 500 {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &Error{URL: url, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	return data, nil
}
