// Package gateway routes plugin-originated network calls through the
// backend's credential proxy. Plugins name a stored credential by
// service id; the backend attaches the secret and forwards the call, so
// plugin code never observes a credential it did not itself submit.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"chatraw/config"
)

// ProxyRequest is the JSON envelope sent to the proxy endpoint.
type ProxyRequest struct {
	ServiceID string            `json:"service_id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
}

// ProxyResult is what crosses back over the plugin boundary. Failures
// of any kind (network, non-2xx, bad response) land in Error with
// Success false; a Go error never crosses into plugin code.
type ProxyResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the backend proxy endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Request performs a proxied call. The method defaults to GET.
func (c *Client) Request(req ProxyRequest) ProxyResult {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return failure(fmt.Errorf("failed to encode proxy request: %w", err))
	}

	resp, err := c.http.Post(c.baseURL+"/api/proxy/request", "application/json", bytes.NewReader(payload))
	if err != nil {
		return failure(fmt.Errorf("proxy request failed: %w", err))
	}
	defer resp.Body.Close()

	return decodeResult(resp)
}

// Upload performs a proxied multipart upload: the file plus the
// service_id, target url, extra_fields (a JSON object string) and
// file_field_name parts the backend expects.
func (c *Client) Upload(file io.Reader, filename, serviceID, url string, extraFields map[string]string, fileFieldName string) ProxyResult {
	if fileFieldName == "" {
		fileFieldName = "file"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fileFieldName, filename)
	if err != nil {
		return failure(fmt.Errorf("failed to build multipart body: %w", err))
	}
	if _, err := io.Copy(part, file); err != nil {
		return failure(fmt.Errorf("failed to read upload file: %w", err))
	}

	fields, err := json.Marshal(extraFields)
	if err != nil {
		return failure(fmt.Errorf("failed to encode extra fields: %w", err))
	}

	w.WriteField("service_id", serviceID)
	w.WriteField("url", url)
	w.WriteField("extra_fields", string(fields))
	w.WriteField("file_field_name", fileFieldName)
	if err := w.Close(); err != nil {
		return failure(fmt.Errorf("failed to finish multipart body: %w", err))
	}

	resp, err := c.http.Post(c.baseURL+"/api/proxy/upload", w.FormDataContentType(), &buf)
	if err != nil {
		return failure(fmt.Errorf("proxy upload failed: %w", err))
	}
	defer resp.Body.Close()

	return decodeResult(resp)
}

// decodeResult maps the HTTP response onto a ProxyResult. Non-2xx is a
// failure carrying the response text; a 2xx body is surfaced as parsed
// JSON when possible, raw text otherwise.
func decodeResult(resp *http.Response) ProxyResult {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(fmt.Errorf("failed to read proxy response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ProxyResult{
			Success: false,
			Error:   fmt.Sprintf("proxy returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	var data any
	if len(body) > 0 && json.Unmarshal(body, &data) == nil {
		return ProxyResult{Success: true, Data: data}
	}
	return ProxyResult{Success: true, Data: string(body)}
}

func failure(err error) ProxyResult {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[gateway] %v", err)
	}
	return ProxyResult{Success: false, Error: err.Error()}
}
