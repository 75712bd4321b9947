package stream

import (
	"encoding/json"
	"fmt"

	"chatraw/model"
)

// chatFrame is one line of the chat NDJSON stream. All fields are
// optional; pointers distinguish "absent" from zero values.
type chatFrame struct {
	ChatID     *string            `json:"chat_id"`
	Content    *string            `json:"content"`
	Thinking   *string            `json:"thinking"`
	References *[]model.Reference `json:"references"`
	Error      *string            `json:"error"`
	Done       *bool              `json:"done"`
}

// ChatConsumer applies chat frames to a message being assembled.
// Content and thinking arrive as deltas and are appended; references
// replace wholesale; an error frame replaces the displayed content with
// an error marker without aborting the read.
type ChatConsumer struct {
	msg      *model.Message
	chatID   string
	done     bool
	onUpdate func()
}

// NewChatConsumer creates a consumer mutating msg. onUpdate, if
// non-nil, fires after every applied frame (UI repaint hook).
func NewChatConsumer(msg *model.Message, onUpdate func()) *ChatConsumer {
	return &ChatConsumer{msg: msg, onUpdate: onUpdate}
}

// Frame implements Consumer.
func (c *ChatConsumer) Frame(line []byte) error {
	var f chatFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return fmt.Errorf("chat frame: %w", err)
	}

	if f.ChatID != nil {
		c.chatID = *f.ChatID
		c.msg.ChatID = *f.ChatID
	}
	if f.Content != nil {
		c.msg.AppendContent(*f.Content)
	}
	if f.Thinking != nil {
		c.msg.AppendThinking(*f.Thinking)
	}
	if f.References != nil {
		c.msg.SetReferences(*f.References)
	}
	if f.Error != nil {
		c.msg.Fail(*f.Error)
	}
	if f.Done != nil && *f.Done {
		c.done = true
	}

	if c.onUpdate != nil {
		c.onUpdate()
	}
	return nil
}

// ChatID returns the conversation id announced by the stream, if any.
func (c *ChatConsumer) ChatID() string {
	return c.chatID
}

// Done reports whether the stream announced completion.
func (c *ChatConsumer) Done() bool {
	return c.done
}
