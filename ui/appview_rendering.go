package ui

import (
	"fmt"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/mattn/go-runewidth"

	"chatraw/model"
)

func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.SetContent("")
	return vp
}

// viewportHeight leaves room for the input box, the status line and the
// footer.
func (a *AppView) viewportHeight() int {
	h := a.height - a.textarea.Height() - 3
	if h < 3 {
		h = 3
	}
	return h
}

func (a *AppView) View() string {
	if !a.ready {
		return "loading..."
	}

	if a.showPluginManager {
		return a.renderPluginManager()
	}
	if a.showChatList {
		return a.renderChatList()
	}
	if a.showDocList {
		return a.renderDocList()
	}

	var b strings.Builder
	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.uploadMode {
		b.WriteString(TitleStyle.Render("Index document: ") + a.uploadInput.View())
	} else {
		b.WriteString(a.textarea.View())
	}
	b.WriteString("\n")
	b.WriteString(a.renderStatusLine())

	if a.showHelp {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render(FormatFooter(
			"enter", "Send",
			"esc", "Cancel stream",
			"ctrl+n", "New chat",
			"ctrl+l", "Chats",
			"ctrl+p", "Plugins",
			"ctrl+d", "Documents",
			"ctrl+u", "Index doc",
			"ctrl+r", "Toggle RAG",
			"ctrl+y", "Copy reply",
			"ctrl+c", "Quit",
		)))
	}

	return b.String()
}

func (a *AppView) renderStatusLine() string {
	var parts []string

	if a.streaming() {
		parts = append(parts, a.spinner.View()+" generating  (esc to cancel)")
	}

	a.stream.mu.Lock()
	if a.stream.uploading {
		up := a.stream.upload
		parts = append(parts, fmt.Sprintf("indexing %s %d%% (%d/%d)", up.Status, up.Progress, up.Current, up.Total))
	}
	a.stream.mu.Unlock()

	if a.useRAG {
		parts = append(parts, SelectedStyle.Render("[kb]"))
	}
	if a.status != "" {
		parts = append(parts, a.status)
	}
	if len(parts) == 0 {
		parts = append(parts, "ctrl+h for help")
	}

	return StatusStyle.Render(strings.Join(parts, "  "))
}

// renderConversation rebuilds the viewport content from the message
// list plus the in-flight reply, if any.
func (a *AppView) renderConversation() {
	if !a.ready {
		return
	}

	var b strings.Builder
	for i := range a.messages {
		a.renderMessage(&b, &a.messages[i], false)
	}

	a.stream.mu.Lock()
	active := a.stream.active
	snapshot := a.stream.msg
	a.stream.mu.Unlock()

	if active {
		a.renderMessage(&b, &snapshot, true)
	}

	a.viewport.SetContent(b.String())
}

func (a *AppView) renderMessage(b *strings.Builder, m *model.Message, inFlight bool) {
	if m.Hidden {
		return
	}

	switch m.Role {
	case "user":
		b.WriteString(UserStyle.Render("You"))
		b.WriteString("\n")
		b.WriteString(m.Content)
	default:
		b.WriteString(AssistantStyle.Render("Assistant"))
		b.WriteString("\n")

		if m.Thinking != "" {
			b.WriteString(ThinkingStyle.Render(truncateLine("thinking: "+m.Thinking, a.width)))
			b.WriteString("\n")
		}

		switch {
		case m.Failed:
			b.WriteString(ErrorStyle.Render(m.Content))
		case inFlight:
			// Raw text while streaming; markdown redraws on finish.
			b.WriteString(m.Content)
		default:
			b.Write(markdown.Render(m.Content, a.contentWidth(), 0))
		}

		if len(m.References) > 0 {
			b.WriteString("\n")
			b.WriteString(DimStyle.Render(fmt.Sprintf("%d reference(s)", len(m.References))))
			for _, ref := range m.References {
				b.WriteString("\n")
				b.WriteString(DimStyle.Render("  · " + truncateLine(ref.Content, a.width-4)))
			}
		}
	}
	b.WriteString("\n\n")
}

func (a *AppView) contentWidth() int {
	w := a.width - 2
	if w < 20 {
		w = 20
	}
	return w
}

// truncateLine flattens text to one line clipped to the display width.
func truncateLine(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if width <= 1 {
		return s
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width-1, "…")
}

func copyToClipboard(text string) error {
	return clipboard.WriteAll(text)
}
