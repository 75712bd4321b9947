// Package hook implements the named extension points plugins register
// handlers into, and the priority-ordered dispatch that invokes them.
package hook

import "context"

// Hook names understood by the runtime. Data hooks carry a documented
// argument/result contract; the UI hooks are extension points whose
// payload the core does not interpret.
const (
	ParseDocument   = "parse_document"
	WebSearch       = "web_search"
	PreEmbedding    = "pre_embedding"
	PostRetrieval   = "post_retrieval"
	BeforeSend      = "before_send"
	AfterReceive    = "after_receive"
	TransformInput  = "transform_input"
	TransformOutput = "transform_output"
	ToolbarButton   = "toolbar_button"
	CustomAction    = "custom_action"
	CustomSettings  = "custom_settings"
	FilePreview     = "file_preview"
)

var knownHooks = map[string]bool{
	ParseDocument:   true,
	WebSearch:       true,
	PreEmbedding:    true,
	PostRetrieval:   true,
	BeforeSend:      true,
	AfterReceive:    true,
	TransformInput:  true,
	TransformOutput: true,
	ToolbarButton:   true,
	CustomAction:    true,
	CustomSettings:  true,
	FilePreview:     true,
}

// IsKnown reports whether name is a hook the runtime dispatches.
func IsKnown(name string) bool {
	return knownHooks[name]
}

// Names returns all known hook names.
func Names() []string {
	names := make([]string, 0, len(knownHooks))
	for name := range knownHooks {
		names = append(names, name)
	}
	return names
}

// Result is the tagged outcome of one handler invocation. Dispatch stops
// at the first result with Handled set; anything else is a skip.
type Result struct {
	Handled bool
	Payload map[string]any
}

// Skip returns a result that lets dispatch continue to the next handler.
func Skip() Result {
	return Result{}
}

// Handled returns a short-circuiting result carrying payload.
func Handled(payload map[string]any) Result {
	return Result{Handled: true, Payload: payload}
}

// String returns the payload field key as a string, or "" if absent.
func (r Result) String(key string) string {
	if r.Payload == nil {
		return ""
	}
	s, _ := r.Payload[key].(string)
	return s
}

// Func is a hook handler. Handlers may block on I/O; an error is logged
// and treated as a skip, never surfaced to the user.
type Func func(ctx context.Context, args map[string]any) (Result, error)
