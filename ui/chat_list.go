package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (a *AppView) handleChatListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+l":
		a.showChatList = false
		return a, nil

	case "j", "down":
		if a.selectedChatIdx < len(a.chats)-1 {
			a.selectedChatIdx++
		}
		return a, nil

	case "k", "up":
		if a.selectedChatIdx > 0 {
			a.selectedChatIdx--
		}
		return a, nil

	case "enter":
		if a.selectedChatIdx < len(a.chats) {
			return a, a.loadHistoryCmd(a.chats[a.selectedChatIdx].ID)
		}
		return a, nil

	case "n":
		a.showChatList = false
		a.chatID = ""
		a.messages = nil
		a.renderConversation()
		return a, nil

	case "d":
		if a.selectedChatIdx < len(a.chats) {
			id := a.chats[a.selectedChatIdx].ID
			return a, a.deleteChatCmd(id)
		}
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *AppView) deleteChatCmd(id string) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.DeleteChat(id); err != nil {
			return statusMsg(fmt.Sprintf("delete failed: %v", err))
		}
		chats, err := a.client.Chats()
		return chatsLoadedMsg{chats: chats, err: err}
	}
}

func (a *AppView) renderChatList() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Chats"))
	b.WriteString("\n\n")

	if len(a.chats) == 0 {
		b.WriteString(DimStyle.Render("no chats yet"))
		b.WriteString("\n")
	}

	for i, c := range a.chats {
		title := c.Title
		if title == "" {
			title = c.ID
		}
		line := fmt.Sprintf("  %s  %s", title, DimStyle.Render(truncateLine(c.UpdatedAt, 16)))
		if i == a.selectedChatIdx {
			line = SelectedStyle.Render("> " + title)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(FormatFooter(
		"j/k", "Navigate",
		"enter", "Open",
		"n", "New",
		"d", "Delete",
		"esc", "Close",
	)))
	return b.String()
}
