// Package admin 封装了代理服务器的 HTTP 管理接口
//
// Every call degrades to a failure value (false or nil) instead of returning
// an error; callers that must tell "no" from "request failed" need their own
// wrapper.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// Client talks to the broker's administrative endpoints.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// New returns a Client for the broker at base. A nil httpClient uses a
// client with DefaultTimeout; a nil logger uses slog.Default().
func New(base string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   httpClient,
		logger: logger,
	}
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type channelsResponse struct {
	Exists []string `json:"exists"`
}

// Publish posts message as JSON to every subscriber of topic without opening
// a subscription. It reports whether the broker accepted the message.
func (c *Client) Publish(ctx context.Context, topic string, message any) bool {
	body, err := json.Marshal(message)
	if err != nil {
		c.logger.Warn("publish: encode message failed", "topic", topic, "err", err)
		return false
	}
	resp, err := c.do(ctx, http.MethodPost, "publish", url.Values{"topic": {topic}}, body)
	if err != nil {
		c.logger.Warn("publish failed", "topic", topic, "err", err)
		return false
	}
	defer drain(resp)
	return true
}

// CheckChannel reports whether topic has a live channel on the broker.
func (c *Client) CheckChannel(ctx context.Context, topic string) bool {
	resp, err := c.do(ctx, http.MethodGet, "channels/exists", url.Values{"topic": {topic}}, nil)
	if err != nil {
		c.logger.Warn("check channel failed", "topic", topic, "err", err)
		return false
	}
	defer drain(resp)
	var out existsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("check channel: decode failed", "topic", topic, "err", err)
		return false
	}
	return out.Exists
}

// GetChannels lists the topics with live channels, or nil on failure.
func (c *Client) GetChannels(ctx context.Context) []string {
	resp, err := c.do(ctx, http.MethodGet, "channels", nil, nil)
	if err != nil {
		c.logger.Warn("get channels failed", "err", err)
		return nil
	}
	defer drain(resp)
	var out channelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("get channels: decode failed", "err", err)
		return nil
	}
	if out.Exists == nil {
		return []string{}
	}
	return out.Exists
}

// CloseChannel asks the broker to drop topic and unsubscribe its subscribers.
func (c *Client) CloseChannel(ctx context.Context, topic string) bool {
	resp, err := c.do(ctx, http.MethodDelete, "channels", url.Values{"topic": {topic}}, nil)
	if err != nil {
		c.logger.Warn("close channel failed", "topic", topic, "err", err)
		return false
	}
	defer drain(resp)
	return true
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	target := c.base + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
