package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (a *AppView) handleDocListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+d":
		a.showDocList = false
		return a, nil

	case "j", "down":
		if a.selectedDocIdx < len(a.docs)-1 {
			a.selectedDocIdx++
		}
		return a, nil

	case "k", "up":
		if a.selectedDocIdx > 0 {
			a.selectedDocIdx--
		}
		return a, nil

	case "u":
		a.showDocList = false
		a.uploadMode = true
		a.uploadInput.Focus()
		return a, nil

	case "d":
		if a.selectedDocIdx < len(a.docs) {
			return a, a.deleteDocumentCmd(a.docs[a.selectedDocIdx].ID)
		}
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *AppView) refreshDocsCmd() tea.Cmd {
	return func() tea.Msg {
		docs, err := a.client.Documents()
		return docsLoadedMsg{docs: docs, err: err}
	}
}

func (a *AppView) deleteDocumentCmd(id string) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.DeleteDocument(id); err != nil {
			return statusMsg(fmt.Sprintf("delete failed: %v", err))
		}
		docs, err := a.client.Documents()
		return docsLoadedMsg{docs: docs, err: err}
	}
}

func (a *AppView) renderDocList() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Documents"))
	b.WriteString("\n\n")

	if len(a.docs) == 0 {
		b.WriteString(DimStyle.Render("no documents indexed"))
		b.WriteString("\n")
	}

	for i, d := range a.docs {
		line := fmt.Sprintf("  %s  %s", d.Filename, DimStyle.Render(truncateLine(d.CreatedAt, 16)))
		if i == a.selectedDocIdx {
			line = SelectedStyle.Render("> " + d.Filename)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(FormatFooter(
		"j/k", "Navigate",
		"u", "Index file",
		"d", "Delete",
		"esc", "Close",
	)))
	return b.String()
}
