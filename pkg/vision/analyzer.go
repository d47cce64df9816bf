// Package vision is the image-analysis collaborator boundary.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stashbot/pkg/domain"
)

// Analyzer extracts content signals from image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (domain.Signals, error)
}

// Client posts image bytes to an analysis HTTP service and decodes the
// extracted labels, OCR text, face count, and dominant colors.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds an analysis client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Analyze submits the image for analysis.
func (c *Client) Analyze(ctx context.Context, image []byte) (domain.Signals, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyze", bytes.NewReader(image))
	if err != nil {
		return domain.Signals{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Signals{}, fmt.Errorf("analyze image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.Signals{}, fmt.Errorf("analyze image: %s", resp.Status)
	}
	var signals domain.Signals
	if err := json.NewDecoder(resp.Body).Decode(&signals); err != nil {
		return domain.Signals{}, fmt.Errorf("decode analysis: %w", err)
	}
	return signals, nil
}
