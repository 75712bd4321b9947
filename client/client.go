// Package client talks to the ChatRaw backend: the streaming chat
// endpoint with its hook pipeline, plus the chats, documents, settings
// and upload APIs.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"chatraw/hook"
	"chatraw/stream"
)

// ErrBusy is returned by Send while another send is in flight. Sends
// are strictly serialized so two chat streams can never interleave.
var ErrBusy = errors.New("a message is already being sent")

// Client is the backend API client. Safe for concurrent use; the send
// path itself admits one operation at a time.
type Client struct {
	baseURL  string
	http     *http.Client // request/response calls
	streamer *http.Client // streaming calls, no overall timeout
	registry *hook.Registry

	mu      sync.Mutex
	sending bool
	cancel  *stream.CancelToken
}

// New creates a client for the backend at baseURL. registry may be nil
// when no plugin runtime is active.
func New(baseURL string, registry *hook.Registry) *Client {
	if registry == nil {
		registry = hook.NewRegistry(nil)
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		streamer: &http.Client{},
		registry: registry,
	}
}

// getJSON performs a GET and decodes the response into out.
func (c *Client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decoding response: %w", path, err)
	}
	return nil
}

// postJSON performs a POST with a JSON body and decodes the response
// into out (which may be nil).
func (c *Client) postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("POST %s: encoding request: %w", path, err)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("POST %s: decoding response: %w", path, err)
	}
	return nil
}

// delete performs a DELETE.
func (c *Client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("DELETE %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("DELETE %s: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
