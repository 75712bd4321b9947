package stream

import (
	"encoding/json"
	"fmt"
)

// Upload status values emitted by the document-processing stream.
const (
	StatusChunking  = "chunking"
	StatusEmbedding = "embedding"
	StatusDone      = "done"
)

// UploadProgress is the numeric state driven by upload frames.
type UploadProgress struct {
	Status   string
	Progress int // 0-100
	Current  int
	Total    int
	Filename string
}

type uploadFrame struct {
	Status   *string  `json:"status"`
	Progress *float64 `json:"progress"`
	Current  *int     `json:"current"`
	Total    *int     `json:"total"`
	Filename *string  `json:"filename"`
}

// UploadConsumer applies upload-progress frames. A done status
// finalizes the progress and fires onDone once, which callers use to
// refresh the document list.
type UploadConsumer struct {
	state    UploadProgress
	doneSent bool
	onUpdate func(UploadProgress)
	onDone   func()
}

// NewUploadConsumer creates a consumer. Both callbacks may be nil.
func NewUploadConsumer(onUpdate func(UploadProgress), onDone func()) *UploadConsumer {
	return &UploadConsumer{onUpdate: onUpdate, onDone: onDone}
}

// Frame implements Consumer.
func (c *UploadConsumer) Frame(line []byte) error {
	var f uploadFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	if f.Status != nil {
		c.state.Status = *f.Status
	}
	if f.Progress != nil {
		c.state.Progress = int(*f.Progress)
	}
	if f.Current != nil {
		c.state.Current = *f.Current
	}
	if f.Total != nil {
		c.state.Total = *f.Total
	}
	if f.Filename != nil {
		c.state.Filename = *f.Filename
	}

	if c.onUpdate != nil {
		c.onUpdate(c.state)
	}

	if c.state.Status == StatusDone && !c.doneSent {
		c.doneSent = true
		c.state.Progress = 100
		if c.onDone != nil {
			c.onDone()
		}
	}
	return nil
}

// Progress returns the current progress state.
func (c *UploadConsumer) Progress() UploadProgress {
	return c.state
}
