// Package chat is the chat-platform collaborator: file metadata,
// content download, nearby message context, and user notifications.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stashbot/pkg/domain"
)

// Source exposes the platform operations the pipeline consumes.
type Source interface {
	// FileInfo fetches metadata for a shared file.
	FileInfo(ctx context.Context, fileID string) (domain.FileInfo, error)
	// Download streams the file's bytes. Caller closes the reader.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	// ChannelContext returns recent message text around the upload,
	// used as classification context.
	ChannelContext(ctx context.Context, channelID, userID string) (string, error)
}

// Notifier posts processing outcomes back to the channel. Both calls
// are fire-and-forget: a failed notification never fails the pipeline.
type Notifier interface {
	NotifySuccess(ctx context.Context, channelID string, rec domain.UploadRecord)
	NotifyFailure(ctx context.Context, channelID string, rec domain.UploadRecord, cause error)
}

// Client talks to the chat platform's HTTP API with a bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a platform client. baseURL points at the platform
// API; token is the bot credential.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FileInfo fetches metadata for one file id.
func (c *Client) FileInfo(ctx context.Context, fileID string) (domain.FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/files.info?file=%s", c.baseURL, fileID), nil)
	if err != nil {
		return domain.FileInfo{}, err
	}
	var resp struct {
		OK    bool            `json:"ok"`
		Error string          `json:"error"`
		File  domain.FileInfo `json:"file"`
	}
	if err := c.do(req, &resp); err != nil {
		return domain.FileInfo{}, err
	}
	if !resp.OK {
		return domain.FileInfo{}, fmt.Errorf("files.info: %s", resp.Error)
	}
	return resp.File, nil
}

// Download streams the file body.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/files.download?file=%s", c.baseURL, fileID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: %s", resp.Status)
	}
	return resp.Body, nil
}

// ChannelContext concatenates the uploader's recent messages in the
// channel into one context string for the scorer.
func (c *Client) ChannelContext(ctx context.Context, channelID, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/conversations.history?channel=%s&limit=10", c.baseURL, channelID), nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Messages []struct {
			User string `json:"user"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("conversations.history: %s", resp.Error)
	}
	parts := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if userID == "" || msg.User == userID {
			parts = append(parts, msg.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// NotifySuccess posts a completion summary. Errors are logged, never returned.
func (c *Client) NotifySuccess(ctx context.Context, channelID string, rec domain.UploadRecord) {
	text := fmt.Sprintf("Saved %s", rec.OriginalFilename)
	if rec.AICategory != "" {
		text = fmt.Sprintf("Saved %s to %s (%.0f%% confidence)",
			rec.OriginalFilename, rec.AICategory, rec.AIConfidence*100)
	}
	c.postMessage(ctx, channelID, text)
}

// NotifyFailure posts a terminal-failure notice. Errors are logged, never returned.
func (c *Client) NotifyFailure(ctx context.Context, channelID string, rec domain.UploadRecord, cause error) {
	c.postMessage(ctx, channelID,
		fmt.Sprintf("Could not save %s: %v", rec.OriginalFilename, cause))
}

func (c *Client) postMessage(ctx context.Context, channelID, text string) {
	payload, err := json.Marshal(map[string]string{
		"channel": channelID,
		"text":    text,
	})
	if err != nil {
		slog.Warn("encode notification", "err", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		slog.Warn("build notification request", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, nil); err != nil {
		slog.Warn("post notification", "channel", channelID, "err", err)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chat api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
