package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"chatraw/hook"
	"chatraw/model"
	"chatraw/stream"
)

// Server timestamps stay as the ISO strings the backend emits; they are
// display-only on this side.
type chatWire struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type messageWire struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Thinking  string            `json:"thinking,omitempty"`
	Refs      []model.Reference `json:"references,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type documentWire struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	CreatedAt string `json:"created_at"`
}

// parseServerTime accepts the timestamp formats the backend emits:
// RFC 3339 or a bare ISO timestamp without zone. Unparseable input
// yields the zero time, which renders as "unknown" rather than failing
// the whole list.
func parseServerTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Chats returns the conversation list.
func (c *Client) Chats() ([]model.Chat, error) {
	var wire []chatWire
	if err := c.getJSON("/api/chats", &wire); err != nil {
		return nil, err
	}

	chats := make([]model.Chat, len(wire))
	for i, w := range wire {
		chats[i] = model.Chat{ID: w.ID, Title: w.Title, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}
	}
	return chats, nil
}

// CreateChat creates an empty conversation and returns it.
func (c *Client) CreateChat() (model.Chat, error) {
	var w chatWire
	if err := c.postJSON("/api/chats", struct{}{}, &w); err != nil {
		return model.Chat{}, err
	}
	return model.Chat{ID: w.ID, Title: w.Title, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}, nil
}

// DeleteChat removes a conversation and its messages.
func (c *Client) DeleteChat(id string) error {
	return c.delete("/api/chats/" + id)
}

// Messages returns a conversation's history.
func (c *Client) Messages(chatID string) ([]model.Message, error) {
	var wire []messageWire
	if err := c.getJSON("/api/chats/"+chatID+"/messages", &wire); err != nil {
		return nil, err
	}

	msgs := make([]model.Message, len(wire))
	for i, w := range wire {
		msgs[i] = model.Message{
			ID:         w.ID,
			ChatID:     chatID,
			Role:       w.Role,
			Content:    w.Content,
			Thinking:   w.Thinking,
			References: w.Refs,
			Timestamp:  parseServerTime(w.Timestamp),
		}
	}
	return msgs, nil
}

// Documents returns the knowledge-base document list.
func (c *Client) Documents() ([]model.Document, error) {
	var wire []documentWire
	if err := c.getJSON("/api/documents", &wire); err != nil {
		return nil, err
	}

	docs := make([]model.Document, len(wire))
	for i, w := range wire {
		docs[i] = model.Document{ID: w.ID, Filename: w.Filename, CreatedAt: w.CreatedAt}
	}
	return docs, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(id string) error {
	return c.delete("/api/documents/" + id)
}

// UploadDocument sends a file for chunking and embedding and consumes
// the progress stream. onProgress fires per frame; onDone fires once
// when processing finishes, which is the moment to refresh the document
// list. A fired token abandons the stream and returns
// stream.ErrCancelled; server-side processing may still complete.
func (c *Client) UploadDocument(filename string, file io.Reader, tok *stream.CancelToken, onProgress func(stream.UploadProgress), onDone func()) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}

	resp, err := c.streamer.Post(c.baseURL+"/api/documents", w.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return fmt.Errorf("upload %s: %w", filename, err)
	}

	asm := stream.NewAssembler(stream.NewUploadConsumer(onProgress, onDone))
	return asm.Consume(resp.Body, tok)
}

// UploadImage sends an image and returns its base64 encoding for
// embedding into a chat request.
func (c *Client) UploadImage(filename string, file io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload image %s: %w", filename, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("upload image %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload image %s: %w", filename, err)
	}

	resp, err := c.http.Post(c.baseURL+"/api/upload/image", w.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("upload image %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("upload image %s: %w", filename, err)
	}

	var out struct {
		Success bool   `json:"success"`
		Base64  string `json:"base64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload image %s: decoding response: %w", filename, err)
	}
	if !out.Success {
		return "", fmt.Errorf("upload image %s: server rejected upload", filename)
	}
	return out.Base64, nil
}

// ParseURL fetches and extracts a web page's text. The web_search hook
// gets first crack; a plugin that handles it supplies results without a
// backend round trip.
func (c *Client) ParseURL(url string) (string, error) {
	if res := c.registry.Dispatch(context.Background(), hook.WebSearch, map[string]any{"query": url}); res.Handled {
		if text := webResultsText(res.Payload["results"]); text != "" {
			return text, nil
		}
	}
	return c.parseURLRemote(url)
}

// webResultsText flattens a web_search results payload into plain text.
// Results arrive either as one string or as a list of entries carrying
// content or snippet fields.
func webResultsText(results any) string {
	switch v := results.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, entry := range v {
			switch e := entry.(type) {
			case string:
				if e != "" {
					parts = append(parts, e)
				}
			case map[string]any:
				if s, _ := e["content"].(string); s != "" {
					parts = append(parts, s)
				} else if s, _ := e["snippet"].(string); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func (c *Client) parseURLRemote(url string) (string, error) {
	var out struct {
		Success bool   `json:"success"`
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := c.postJSON("/api/parse-url", map[string]string{"url": url}, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("parse url: %s", out.Error)
	}
	return out.Content, nil
}

// Settings fetches the server settings as raw JSON; the caller decides
// how much of it to interpret.
func (c *Client) Settings() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON("/api/settings", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SaveSettings writes the server settings back.
func (c *Client) SaveSettings(settings json.RawMessage) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/settings", bytes.NewReader(settings))
	if err != nil {
		return fmt.Errorf("POST /api/settings: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST /api/settings: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}
