package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ExportComplete sends a plain-text note that an export finished. Used for
// fire-and-forget ntfy-style webhooks; an empty endpoint is an error so
// callers gate on their config instead.
func ExportComplete(ctx context.Context, client *http.Client, endpoint, path string, records int) error {
	message := fmt.Sprintf("Capture export complete: %d records written to %s", records, path)
	return Send(ctx, client, endpoint, message)
}

// Send posts a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
