package ui

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"chatraw/client"
	"chatraw/config"
	"chatraw/model"
	"chatraw/plugin"
	"chatraw/storage"
	"chatraw/stream"
)

const streamTickInterval = 80 * time.Millisecond

// streamState is what the renderer may read while background work is in
// flight. The send goroutine owns the live message and publishes copies
// of it here from its frame callback; the ticker only ever reads the
// copy. Everything behind the mutex.
type streamState struct {
	mu        sync.Mutex
	msg       model.Message
	active    bool
	upload    stream.UploadProgress
	uploading bool
}

type AppView struct {
	client  *client.Client
	store   *storage.Store
	plugins *plugin.Manager
	cfg     *config.Config

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// Window state
	width  int
	height int
	ready  bool

	// Conversation state
	chatID   string
	messages []model.Message
	chats    []model.Chat

	// Streaming state
	stream *streamState

	// Chat list pane
	showChatList    bool
	selectedChatIdx int

	// Document list pane
	showDocList    bool
	docs           []model.Document
	selectedDocIdx int

	// Plugin manager pane
	showPluginManager  bool
	pluginList         []plugin.Info
	selectedPluginIdx  int
	pluginInstallMode  bool
	pluginInstallInput textinput.Model

	// Document upload
	uploadMode  bool
	uploadInput textinput.Model

	// Pending RAG / web context for the next send
	useRAG bool

	status   string
	showHelp bool
}

// New creates the app view. The chat list is primed from the local
// cache; a fresh fetch replaces it once the first refresh completes.
func New(cl *client.Client, store *storage.Store, plugins *plugin.Manager, cfg *config.Config) *AppView {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Focus()
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	installInput := textinput.New()
	installInput.Placeholder = "https://example.com/plugin.json"

	uploadInput := textinput.New()
	uploadInput.Placeholder = "/path/to/document.txt"

	a := &AppView{
		client:             cl,
		store:              store,
		plugins:            plugins,
		cfg:                cfg,
		textarea:           ta,
		spinner:            sp,
		pluginInstallInput: installInput,
		uploadInput:        uploadInput,
		stream:             &streamState{},
	}

	if cached, err := store.CachedChats(); err == nil {
		a.chats = cached
	}
	if cached, err := store.CachedDocuments(); err == nil {
		a.docs = cached
	}

	return a
}

func (a *AppView) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.refreshChatsCmd())
}

// Messages produced by background work.

type streamTickMsg struct{}

type sendFinishedMsg struct {
	chatID string
	reply  model.Message
	err    error
}

type chatsLoadedMsg struct {
	chats []model.Chat
	err   error
}

type historyLoadedMsg struct {
	chatID   string
	messages []model.Message
	err      error
}

type docsLoadedMsg struct {
	docs []model.Document
	err  error
}

type pluginsLoadedMsg struct {
	plugins []plugin.Info
	err     error
}

type pluginActionMsg struct {
	err error
}

type uploadFinishedMsg struct {
	filename string
	err      error
}

type statusMsg string

func streamTick() tea.Cmd {
	return tea.Tick(streamTickInterval, func(time.Time) tea.Msg {
		return streamTickMsg{}
	})
}
