// Package model provides upstream text producers for the pipeline: a
// streaming client for OpenAI-compatible chat APIs and scripted producers
// for offline narration and tests.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http *http.Client
	cfg  Config
	base *url.URL
}

// NewClient creates a client from a validated config. A nil httpClient
// falls back to http.DefaultClient.
func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("model base_url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, cfg: cfg, base: base}, nil
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Narrate opens a streaming completion for one command. The returned
// stream is bound to ctx: canceling it aborts the HTTP body read. The
// caller drives the stream to io.EOF (or abandons it with Close).
func (c *Client) Narrate(ctx context.Context, command string) (*Stream, error) {
	reqURL := c.base.ResolveReference(&url.URL{Path: c.cfg.chatPath()})

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: c.cfg.prompt(command)},
		},
		Stream: true,
	}
	payload.StreamOptions.IncludeUsage = true

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("model request encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg := readErrorBody(resp)
		return nil, fmt.Errorf("model http %d: %s", resp.StatusCode, msg)
	}

	return newStream(resp.Body, time.Now()), nil
}

func readErrorBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return strings.TrimSpace(string(b))
}
