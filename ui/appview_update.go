package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"chatraw/client"
	"chatraw/config"
	"chatraw/hook"
	"chatraw/model"
	"chatraw/stream"
)

func (a *AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if !a.ready {
			a.viewport = newViewport(msg.Width, a.viewportHeight())
			a.ready = true
		} else {
			a.viewport.Width = msg.Width
			a.viewport.Height = a.viewportHeight()
		}
		a.textarea.SetWidth(msg.Width - 2)
		a.renderConversation()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case streamTickMsg:
		return a.handleStreamTick()

	case sendFinishedMsg:
		return a.handleSendFinished(msg)

	case chatsLoadedMsg:
		if msg.err == nil {
			a.chats = msg.chats
			if err := a.store.CacheChats(msg.chats); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[ui] caching chats: %v", err)
			}
		} else {
			a.status = "offline: showing cached chats"
		}
		return a, nil

	case historyLoadedMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("failed to load chat: %v", msg.err)
			return a, nil
		}
		a.chatID = msg.chatID
		a.messages = msg.messages
		a.showChatList = false
		a.renderConversation()
		a.viewport.GotoBottom()
		return a, nil

	case docsLoadedMsg:
		if msg.err == nil {
			a.docs = msg.docs
			if a.selectedDocIdx >= len(a.docs) {
				a.selectedDocIdx = 0
			}
			if err := a.store.CacheDocuments(msg.docs); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[ui] caching documents: %v", err)
			}
		} else {
			a.status = "offline: showing cached documents"
		}
		return a, nil

	case pluginsLoadedMsg:
		if msg.err == nil {
			a.pluginList = msg.plugins
			if a.selectedPluginIdx >= len(a.pluginList) {
				a.selectedPluginIdx = 0
			}
		}
		return a, nil

	case pluginActionMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("plugin: %v", msg.err)
		}
		return a, a.refreshPluginsCmd()

	case uploadFinishedMsg:
		a.stream.mu.Lock()
		a.stream.uploading = false
		a.stream.mu.Unlock()
		if msg.err != nil && msg.err != stream.ErrCancelled {
			a.status = fmt.Sprintf("upload failed: %v", msg.err)
			return a, nil
		}
		a.status = fmt.Sprintf("indexed %s", msg.filename)
		return a, a.refreshDocsCmd()

	case statusMsg:
		a.status = string(msg)
		return a, nil
	}

	var cmd tea.Cmd
	a.spinner, cmd = a.spinner.Update(msg)
	return a, cmd
}

func (a *AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Pane-local key handling first.
	if a.showPluginManager {
		return a.handlePluginManagerKey(msg)
	}
	if a.showChatList {
		return a.handleChatListKey(msg)
	}
	if a.showDocList {
		return a.handleDocListKey(msg)
	}
	if a.uploadMode {
		return a.handleUploadKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		a.client.Cancel()
		return a, tea.Quit

	case "esc":
		if a.streaming() {
			// Cancellation keeps the partial reply; the finished
			// handler files it as final.
			a.client.Cancel()
			return a, nil
		}
		a.showHelp = false
		return a, nil

	case "enter":
		return a.startSend()

	case "ctrl+n":
		a.chatID = ""
		a.messages = nil
		a.status = "new chat"
		a.renderConversation()
		return a, nil

	case "ctrl+l":
		a.showChatList = true
		a.selectedChatIdx = 0
		return a, a.refreshChatsCmd()

	case "ctrl+p":
		a.showPluginManager = true
		a.selectedPluginIdx = 0
		return a, a.refreshPluginsCmd()

	case "ctrl+d":
		a.showDocList = true
		a.selectedDocIdx = 0
		return a, a.refreshDocsCmd()

	case "ctrl+u":
		a.uploadMode = true
		a.uploadInput.Focus()
		return a, nil

	case "ctrl+r":
		a.useRAG = !a.useRAG
		if a.useRAG {
			a.status = "knowledge base on"
		} else {
			a.status = "knowledge base off"
		}
		return a, nil

	case "ctrl+y":
		return a, a.copyLastReply()

	case "ctrl+h":
		a.showHelp = !a.showHelp
		return a, nil
	}

	var taCmd, vpCmd tea.Cmd
	a.textarea, taCmd = a.textarea.Update(msg)
	a.viewport, vpCmd = a.viewport.Update(msg)
	return a, tea.Batch(taCmd, vpCmd)
}

func (a *AppView) streaming() bool {
	a.stream.mu.Lock()
	defer a.stream.mu.Unlock()
	return a.stream.active
}

// startSend kicks off the send pipeline in the background and begins
// the repaint tick. The user message and the pending assistant message
// join the conversation immediately.
func (a *AppView) startSend() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.textarea.Value())
	if text == "" || a.streaming() {
		return a, nil
	}
	a.textarea.Reset()

	a.messages = append(a.messages, model.Message{
		ID:      uuid.NewString(),
		ChatID:  a.chatID,
		Role:    "user",
		Content: text,
	})

	reply := &model.Message{ID: uuid.NewString(), Role: "assistant"}
	a.stream.mu.Lock()
	a.stream.msg = *reply
	a.stream.active = true
	a.stream.mu.Unlock()

	a.renderConversation()
	a.viewport.GotoBottom()

	chatID := a.chatID
	useRAG := a.useRAG
	send := func() tea.Msg {
		// reply is confined to this goroutine; the renderer only ever
		// sees the copies published under the mutex per applied frame.
		onUpdate := func() {
			a.stream.mu.Lock()
			a.stream.msg = *reply
			a.stream.mu.Unlock()
		}
		id, err := a.client.Send(context.Background(), chatID, text,
			client.SendOptions{UseRAG: useRAG}, reply, onUpdate)
		return sendFinishedMsg{chatID: id, reply: *reply, err: err}
	}

	return a, tea.Batch(send, streamTick())
}

func (a *AppView) handleStreamTick() (tea.Model, tea.Cmd) {
	a.stream.mu.Lock()
	active := a.stream.active || a.stream.uploading
	a.stream.mu.Unlock()

	a.renderConversation()
	a.viewport.GotoBottom()

	if active {
		return a, streamTick()
	}
	return a, nil
}

func (a *AppView) handleSendFinished(msg sendFinishedMsg) (tea.Model, tea.Cmd) {
	a.stream.mu.Lock()
	a.stream.active = false
	a.stream.msg = model.Message{}
	a.stream.mu.Unlock()

	reply := msg.reply
	if !reply.Failed && reply.Content != "" {
		res := a.plugins.Registry().Dispatch(context.Background(), hook.TransformOutput,
			map[string]any{"content": reply.Content})
		if res.Handled {
			if out := res.String("content"); out != "" {
				reply.Content = out
			}
		}
	}
	a.messages = append(a.messages, reply)
	if msg.chatID != "" {
		a.chatID = msg.chatID
	}

	switch {
	case msg.err == stream.ErrCancelled:
		a.status = "cancelled, partial reply kept"
	case msg.err != nil:
		a.status = fmt.Sprintf("send failed: %v", msg.err)
	default:
		a.status = ""
	}

	a.renderConversation()
	a.viewport.GotoBottom()
	return a, a.refreshChatsCmd()
}

func (a *AppView) handleUploadKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.uploadMode = false
		a.uploadInput.Reset()
		return a, nil
	case "enter":
		path := strings.TrimSpace(a.uploadInput.Value())
		a.uploadMode = false
		a.uploadInput.Reset()
		if path == "" {
			return a, nil
		}
		return a, tea.Batch(a.uploadDocumentCmd(path), streamTick())
	}

	var cmd tea.Cmd
	a.uploadInput, cmd = a.uploadInput.Update(msg)
	return a, cmd
}

// Commands.

func (a *AppView) refreshChatsCmd() tea.Cmd {
	return func() tea.Msg {
		chats, err := a.client.Chats()
		return chatsLoadedMsg{chats: chats, err: err}
	}
}

func (a *AppView) loadHistoryCmd(chatID string) tea.Cmd {
	return func() tea.Msg {
		msgs, err := a.client.Messages(chatID)
		return historyLoadedMsg{chatID: chatID, messages: msgs, err: err}
	}
}

func (a *AppView) uploadDocumentCmd(path string) tea.Cmd {
	a.stream.mu.Lock()
	a.stream.uploading = true
	a.stream.upload = stream.UploadProgress{}
	a.stream.mu.Unlock()

	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return uploadFinishedMsg{err: err}
		}
		defer f.Close()

		name := filepath.Base(path)
		err = a.client.UploadDocument(name, f, stream.NewCancelToken(),
			func(p stream.UploadProgress) {
				a.stream.mu.Lock()
				a.stream.upload = p
				a.stream.mu.Unlock()
			}, nil)
		return uploadFinishedMsg{filename: name, err: err}
	}
}

func (a *AppView) copyLastReply() tea.Cmd {
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role == "assistant" && !a.messages[i].Failed {
			content := a.messages[i].Content
			return func() tea.Msg {
				if err := copyToClipboard(content); err != nil {
					return statusMsg(fmt.Sprintf("copy failed: %v", err))
				}
				return statusMsg("reply copied")
			}
		}
	}
	return nil
}
