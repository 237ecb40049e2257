package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTransformerClient is a transformer that POSTs the message's raw
// content to a fixed URL and takes the response body as the transformed
// output, the script-step equivalent of an external enrichment callout.
type HTTPTransformerClient struct {
	Client *http.Client
	URL    string
	Header http.Header
}

// NewHTTPTransformer builds an HTTPTransformerClient with a bounded-timeout
// client, matching the connector-side HTTP sender's defaults.
func NewHTTPTransformer(url string) *HTTPTransformerClient {
	return &HTTPTransformerClient{
		Client: &http.Client{Timeout: 30 * time.Second},
		URL:    url,
		Header: http.Header{"Content-Type": []string{"application/octet-stream"}},
	}
}

// Transform implements Transformer.
func (h *HTTPTransformerClient) Transform(ctx context.Context, v *View) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, strings.NewReader(v.Raw))
	if err != nil {
		return "", fmt.Errorf("http transformer: build request: %w", err)
	}
	req.Header = h.Header.Clone()

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http transformer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("http transformer: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("http transformer: status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}
