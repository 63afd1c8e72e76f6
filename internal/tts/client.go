// Package tts renders dialogue scripts to speech through a VOICEVOX engine.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
)

// HealthCheckTimeout bounds the /version probe.
const HealthCheckTimeout = 5 * time.Second

// Client talks to the VOICEVOX HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Version returns the engine version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	body, err := c.do(ctx, http.MethodGet, "/version", nil, nil)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(body, &v); err != nil {
		return strings.TrimSpace(string(body)), nil
	}
	return v, nil
}

// Available reports whether the engine answers /version.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}

// Speakers returns the engine's speaker catalogue verbatim.
func (c *Client) Speakers(ctx context.Context) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/speakers", nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// AudioQuery builds the synthesis parameters for text.
func (c *Client) AudioQuery(ctx context.Context, text string, speaker int) (map[string]any, error) {
	q := url.Values{"text": {text}, "speaker": {strconv.Itoa(speaker)}}
	body, err := c.do(ctx, http.MethodPost, "/audio_query", q, nil)
	if err != nil {
		return nil, err
	}
	var query map[string]any
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, fmt.Errorf("decode audio query: %w", err)
	}
	return query, nil
}

// Synthesis renders a prepared query to WAV bytes.
func (c *Client) Synthesis(ctx context.Context, query map[string]any, speaker, sampleRate int) ([]byte, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	q := url.Values{"speaker": {strconv.Itoa(speaker)}, "outputSamplingRate": {strconv.Itoa(sampleRate)}}
	return c.do(ctx, http.MethodPost, "/synthesis", q, payload)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Unavailable, "VOICEVOX is not reachable")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read VOICEVOX response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.Unavailable, "VOICEVOX %s returned %d", path, resp.StatusCode).
			WithMetadata("body", truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
