// Package tui is the terminal chat interface: a scrolling transcript, an
// input line, a tab picker and transient toasts, updated live from the
// conversation and the extension bridge.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bearmind/bearmind/internal/cache"
	"github.com/bearmind/bearmind/internal/chat"
	"github.com/bearmind/bearmind/internal/export"
	"github.com/bearmind/bearmind/internal/tabs"
	"github.com/bearmind/bearmind/internal/types"
)

// Toast is a transient notification.
type Toast struct {
	Title string
	Body  string
}

// --- Messages ---

type transcriptChangedMsg struct{}

type tabsChangedMsg struct{ result types.TabsResult }

type highlightChangedMsg struct {
	tabID int
	text  string
}

type toastMsg struct{ toast Toast }

type toastClearMsg struct{ seq int }

type submitDoneMsg struct{ err error }

type exportDoneMsg struct {
	path string
	err  error
}

// Config wires the interface to the rest of the app.
type Config struct {
	Conversation *chat.Conversation
	Tabs         *tabs.Provider
	Cache        *cache.Cache
	Connected    func() bool
	Port         int
	Changes      <-chan struct{} // transcript change notifications
	Toasts       <-chan Toast
}

// --- Model ---

type Model struct {
	cfg    Config
	events chan tea.Msg

	transcript TranscriptModel
	picker     TabPicker
	showPicker bool

	input  string
	search bool
	busy   bool

	tabsResult types.TabsResult
	highlights map[int]string

	toast    *Toast
	toastSeq int

	width  int
	height int
}

func NewModel(cfg Config) Model {
	m := Model{
		cfg:        cfg,
		events:     make(chan tea.Msg, 32),
		picker:     NewTabPicker(),
		highlights: make(map[int]string),
		search:     cfg.Conversation.UseSearch(),
	}
	m.transcript.SetTurns(cfg.Conversation.Turns())

	// Subscriptions outlive the model value; dropped events are fine, a
	// fresh snapshot follows soon enough.
	cfg.Tabs.SubscribeTabs(func(r types.TabsResult) {
		select {
		case m.events <- tabsChangedMsg{result: r}:
		default:
		}
	})
	cfg.Tabs.SubscribeHighlights(func(tabID int, hasHighlight bool, text string) {
		select {
		case m.events <- highlightChangedMsg{tabID: tabID, text: text}:
		default:
		}
	})
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchTabs(m.cfg.Tabs),
		listenChanges(m.cfg.Changes),
		listenToasts(m.cfg.Toasts),
		listenEvents(m.events),
	)
}

// --- Command helpers ---

func fetchTabs(p *tabs.Provider) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tabsChangedMsg{result: p.FetchTabs(ctx)}
	}
}

func listenChanges(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return transcriptChangedMsg{}
	}
}

func listenToasts(ch <-chan Toast) tea.Cmd {
	return func() tea.Msg {
		return toastMsg{toast: <-ch}
	}
}

func listenEvents(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func submitCmd(conv *chat.Conversation, text string, used []int, search bool) tea.Cmd {
	return func() tea.Msg {
		return submitDoneMsg{err: conv.Submit(context.Background(), text, used, search)}
	}
}

func regenerateCmd(conv *chat.Conversation, id string) tea.Cmd {
	return func() tea.Msg {
		return submitDoneMsg{err: conv.Regenerate(context.Background(), id)}
	}
}

func exportCmd(conv *chat.Conversation) tea.Cmd {
	return func() tea.Msg {
		path := fmt.Sprintf("bearmind-%s.md", time.Now().Format("20060102-150405"))
		doc := export.Markdown(conv.Turns(), conv.Model())
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			return exportDoneMsg{err: err}
		}
		return exportDoneMsg{path: path}
	}
}

func expireToast(seq int) tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return toastClearMsg{seq: seq}
	})
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.transcript.Resize(m.width-2, m.height-5)
		m.picker.Width = m.width * 70 / 100
		m.picker.Height = m.height - 4
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case transcriptChangedMsg:
		m.transcript.SetTurns(m.cfg.Conversation.Turns())
		m.busy = m.cfg.Conversation.Busy()
		return m, listenChanges(m.cfg.Changes)

	case tabsChangedMsg:
		m.tabsResult = msg.result
		m.transcript.SetTabs(msg.result.Tabs)
		m.refreshPicker()
		return m, listenEvents(m.events)

	case highlightChangedMsg:
		if msg.text == "" {
			delete(m.highlights, msg.tabID)
		} else {
			m.highlights[msg.tabID] = msg.text
		}
		m.refreshPicker()
		return m, listenEvents(m.events)

	case toastMsg:
		m.toast = &msg.toast
		m.toastSeq++
		return m, tea.Batch(listenToasts(m.cfg.Toasts), expireToast(m.toastSeq))

	case toastClearMsg:
		if msg.seq == m.toastSeq {
			m.toast = nil
		}
		return m, nil

	case submitDoneMsg:
		m.busy = m.cfg.Conversation.Busy()
		if msg.err != nil {
			m.toast = &Toast{Title: "Not Sent", Body: msg.err.Error()}
			m.toastSeq++
			return m, expireToast(m.toastSeq)
		}
		return m, nil

	case exportDoneMsg:
		m.toastSeq++
		if msg.err != nil {
			m.toast = &Toast{Title: "Export Failed", Body: msg.err.Error()}
		} else {
			m.toast = &Toast{Title: "Exported", Body: msg.path}
		}
		return m, expireToast(m.toastSeq)
	}

	return m, nil
}

func (m *Model) refreshPicker() {
	m.picker.SetTabs(m.tabsResult, m.highlights, m.cfg.Cache.ConvertedIDs(), m.cfg.Cache.RereadFlagged)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showPicker {
		switch msg.String() {
		case "up", "k":
			m.picker.MoveUp()
		case "down", "j":
			m.picker.MoveDown()
		case " ":
			m.picker.Toggle()
		case "r":
			if id := m.picker.CursorTab(); id != 0 {
				if m.cfg.Cache.RereadFlagged(id) {
					m.cfg.Cache.ClearReread(id)
					m.picker.MarkReread(id, false)
				} else {
					m.cfg.Cache.FlagReread(id)
					m.picker.MarkReread(id, true)
				}
			}
		case "enter", "esc":
			m.showPicker = false
		case "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		text := strings.TrimSpace(m.input)
		if text == "" {
			return m, nil
		}
		if m.busy {
			m.toastSeq++
			m.toast = &Toast{Title: "Not Sent", Body: "a response is still in progress"}
			return m, expireToast(m.toastSeq)
		}
		m.input = ""
		m.busy = true
		m.transcript.Offset = 0
		return m, submitCmd(m.cfg.Conversation, text, m.picker.Selected(), m.search)
	case "backspace":
		if len(m.input) > 0 {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
	case "ctrl+t":
		m.refreshPicker()
		m.showPicker = true
		return m, fetchTabs(m.cfg.Tabs)
	case "ctrl+s":
		m.search = !m.search
	case "ctrl+r":
		if m.busy {
			return m, nil
		}
		if id, ok := lastAssistantID(m.cfg.Conversation.Turns()); ok {
			m.busy = true
			return m, regenerateCmd(m.cfg.Conversation, id)
		}
	case "ctrl+x":
		if m.busy {
			return m, nil
		}
		turns := m.cfg.Conversation.Turns()
		if len(turns) > 0 {
			m.cfg.Conversation.Delete(turns[len(turns)-1].ID)
		}
	case "ctrl+n":
		m.cfg.Conversation.Reset()
		m.picker.ClearSelection()
	case "ctrl+e":
		return m, exportCmd(m.cfg.Conversation)
	case "up":
		m.transcript.ScrollUp(1)
	case "down":
		m.transcript.ScrollDown(1)
	case "pgup":
		m.transcript.ScrollUp(m.transcript.Height)
	case "pgdown":
		m.transcript.ScrollDown(m.transcript.Height)
	default:
		switch msg.Type {
		case tea.KeyRunes:
			m.input += string(msg.Runes)
		case tea.KeySpace:
			m.input += " "
		}
	}
	return m, nil
}

func lastAssistantID(turns []types.Turn) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Sender == types.SenderAssistant {
			return turns[i].ID, true
		}
	}
	return "", false
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "\n  Starting...\n"
	}

	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	status := fmt.Sprintf("○ waiting on :%d", m.cfg.Port)
	if m.cfg.Connected != nil && m.cfg.Connected() {
		status = "● connected"
	}
	top := fmt.Sprintf("BearMind  %s  ·  %s", status, m.cfg.Conversation.Model())
	if m.search {
		top += "  ·  search on"
	}
	if m.toast != nil {
		toastStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("130")).Padding(0, 1)
		top += "  " + toastStyle.Render(m.toast.Title+": "+truncate(m.toast.Body, 60))
	}
	topBar := topBarStyle.Render(top)

	paneStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.width - 2).
		Height(m.height - 5)
	pane := paneStyle.Render(m.transcript.View())

	if m.showPicker {
		pane = lipgloss.Place(m.width, m.height-5, lipgloss.Center, lipgloss.Center, m.picker.View())
	}

	prompt := "> "
	if m.busy {
		prompt = "… "
	}
	inputLine := lipgloss.NewStyle().Padding(0, 1).Render(prompt + m.input + "█")

	bottomStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	hints := "enter send · ctrl+t tabs · ctrl+s search · ctrl+r regen · ctrl+x delete · ctrl+n new · ctrl+e export · ctrl+c quit"
	if n := len(m.picker.Selected()); n > 0 {
		hints = fmt.Sprintf("%d tabs attached · ", n) + hints
	}
	bottomBar := bottomStyle.Render(hints)

	return lipgloss.JoinVertical(lipgloss.Left, topBar, pane, inputLine, bottomBar)
}
