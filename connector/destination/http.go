package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSender POSTs the payload to a fixed URL through a client with a
// bounded timeout. A failed request is returned as an error; Send does not
// retry it.
type HTTPSender struct {
	Client    *http.Client
	URL       string
	Method    string
	Header    http.Header
	QueueFull bool
}

// NewHTTPSender builds a sender with a bounded-timeout client.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		Client: &http.Client{Timeout: 30 * time.Second},
		URL:    url,
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": []string{"application/octet-stream"}},
	}
}

func (h *HTTPSender) Name() string { return "http:" + h.URL }

func (h *HTTPSender) QueueOnFailure() bool { return h.QueueFull }

// Send issues the configured HTTP request with payload as the body.
func (h *HTTPSender) Send(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("http sender: build request: %w", err)
	}
	req.Header = h.Header.Clone()

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http sender: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("http sender: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(body), fmt.Errorf("http sender: status %d", resp.StatusCode)
	}
	return string(body), nil
}
