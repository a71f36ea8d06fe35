package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ControlChecker verifies that a well-known endpoint is reachable from this
// host. It does not route through the node under test.
type ControlChecker interface {
	Check(ctx context.Context, url string) error
}

// HTTPChecker issues a GET and accepts any 2xx answer.
type HTTPChecker struct {
	Client    *http.Client // nil means http.DefaultClient
	UserAgent string
}

func (c HTTPChecker) Check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("control endpoint returned %d", resp.StatusCode)
	}
	return nil
}
