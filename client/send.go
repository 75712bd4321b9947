package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"chatraw/config"
	"chatraw/hook"
	"chatraw/model"
	"chatraw/stream"
)

// SendOptions carries the optional fields of a chat request.
type SendOptions struct {
	UseRAG      bool
	ImageBase64 string
	WebContent  string
	WebURL      string
}

// chatRequest is the wire body of POST /api/chat.
type chatRequest struct {
	ChatID      string `json:"chat_id"`
	Message     string `json:"message"`
	UseRAG      bool   `json:"use_rag"`
	ImageBase64 string `json:"image_base64,omitempty"`
	WebContent  string `json:"web_content,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

// Send runs the full pipeline for one user message: transform_input,
// before_send, the streaming network call, then after_receive. The
// assistant reply is assembled into msg as frames arrive; onUpdate (may
// be nil) fires after each applied frame. The returned chat id is the
// conversation the server filed the message under (a new one when
// chatID was empty).
//
// While a send is in flight any further Send returns ErrBusy. A
// cancelled send returns stream.ErrCancelled with msg holding whatever
// content had arrived.
func (c *Client) Send(ctx context.Context, chatID, text string, opts SendOptions, msg *model.Message, onUpdate func()) (string, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.sending = true
	tok := stream.NewCancelToken()
	c.cancel = tok
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	// Hooks may rewrite the outgoing text and enrich the request body.
	if res := c.registry.Dispatch(ctx, hook.TransformInput, map[string]any{"message": text}); res.Handled {
		if t := res.String("content"); t != "" {
			text = t
		}
	}

	req := chatRequest{
		ChatID:      chatID,
		Message:     text,
		UseRAG:      opts.UseRAG,
		ImageBase64: opts.ImageBase64,
		WebContent:  opts.WebContent,
		WebURL:      opts.WebURL,
	}

	if res := c.registry.Dispatch(ctx, hook.BeforeSend, map[string]any{"body": requestToMap(req)}); res.Handled {
		if body, ok := res.Payload["body"].(map[string]any); ok {
			applyBodyOverrides(&req, body)
		}
	}

	body, err := c.openChatStream(ctx, req)
	if err != nil {
		return "", err
	}

	consumer := stream.NewChatConsumer(msg, onUpdate)
	asm := stream.NewAssembler(consumer)
	if err := asm.Consume(body, tok); err != nil {
		// Cancellation keeps the partial message and is not a failure
		// of the pipeline; real stream errors surface with whatever
		// content arrived.
		return consumer.ChatID(), err
	}

	if res := c.registry.Dispatch(ctx, hook.AfterReceive, map[string]any{"message": msg.Content}); res.Handled {
		if t := res.String("content"); t != "" {
			msg.Content = t
			if onUpdate != nil {
				onUpdate()
			}
		}
	}

	return consumer.ChatID(), nil
}

// Cancel stops the in-flight send, if any. The partially assembled
// message stays as-is.
func (c *Client) Cancel() {
	c.mu.Lock()
	tok := c.cancel
	c.mu.Unlock()

	if tok != nil {
		tok.Cancel()
	}
}

// Sending reports whether a send is in flight.
func (c *Client) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

func (c *Client) openChatStream(ctx context.Context, req chatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamer.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("chat request: %w", err)
	}
	return resp.Body, nil
}

func requestToMap(req chatRequest) map[string]any {
	return map[string]any{
		"chat_id":      req.ChatID,
		"message":      req.Message,
		"use_rag":      req.UseRAG,
		"image_base64": req.ImageBase64,
		"web_content":  req.WebContent,
		"web_url":      req.WebURL,
	}
}

// applyBodyOverrides folds hook-contributed fields back into the
// request. Unknown fields are ignored with a log line rather than
// silently dropped.
func applyBodyOverrides(req *chatRequest, body map[string]any) {
	for k, v := range body {
		switch k {
		case "chat_id":
			if s, ok := v.(string); ok {
				req.ChatID = s
			}
		case "message":
			if s, ok := v.(string); ok {
				req.Message = s
			}
		case "use_rag":
			if b, ok := v.(bool); ok {
				req.UseRAG = b
			}
		case "image_base64":
			if s, ok := v.(string); ok {
				req.ImageBase64 = s
			}
		case "web_content":
			if s, ok := v.(string); ok {
				req.WebContent = s
			}
		case "web_url":
			if s, ok := v.(string); ok {
				req.WebURL = s
			}
		default:
			if config.DebugLog != nil {
				config.DebugLog.Printf("[client] before_send contributed unknown field %q, ignoring", k)
			}
		}
	}
}
