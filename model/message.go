package model

import "time"

// Reference is a retrieval citation attached to an assistant message.
type Reference struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Message represents a chat message in the conversation.
// Content and Thinking grow by stream deltas; References are replaced
// wholesale by the most recent references frame.
type Message struct {
	ID         string
	ChatID     string
	Role       string
	Content    string
	Thinking   string // Reasoning text, shown collapsed in the UI
	References []Reference
	Hidden     bool // Suppressed from rendering (e.g. injected context)
	Failed     bool // Content was replaced by an error marker
	Timestamp  time.Time
}

// AppendContent applies a content delta.
func (m *Message) AppendContent(delta string) {
	m.Content += delta
}

// AppendThinking applies a thinking delta.
func (m *Message) AppendThinking(delta string) {
	m.Thinking += delta
}

// SetReferences replaces the reference list wholesale.
func (m *Message) SetReferences(refs []Reference) {
	m.References = refs
}

// Fail replaces the displayed content with an error marker. The partial
// content accumulated so far is discarded from display but the message
// itself survives.
func (m *Message) Fail(errText string) {
	m.Content = "⚠ " + errText
	m.Failed = true
}
