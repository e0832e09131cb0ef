package tui

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/bearmind/bearmind/internal/types"
)

var tabRefRe = regexp.MustCompile(`\bTAB-(\d+)\b`)

var (
	userHeaderStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	statusStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	metaStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	chipStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62")).Padding(0, 1)
)

// TranscriptModel renders the conversation with scrollback. Assistant turns
// are rendered as markdown; TAB-<id> references become titled chips.
type TranscriptModel struct {
	Width  int
	Height int
	Offset int // lines scrolled up from the bottom

	turns    []types.Turn
	tabs     map[int]types.Tab
	renderer *glamour.TermRenderer
}

// SetTurns replaces the transcript. The view follows the tail unless the
// user has scrolled up.
func (t *TranscriptModel) SetTurns(turns []types.Turn) {
	t.turns = turns
}

// SetTabs updates the titles used for TAB chips.
func (t *TranscriptModel) SetTabs(tabs map[int]types.Tab) {
	t.tabs = tabs
}

// Resize sets the pane size and rebuilds the markdown renderer for the new
// wrap width.
func (t *TranscriptModel) Resize(width, height int) {
	t.Width = width
	t.Height = height
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		t.renderer = r
	}
}

func (t *TranscriptModel) ScrollUp(n int) {
	t.Offset += n
	if max := t.maxOffset(); t.Offset > max {
		t.Offset = max
	}
}

func (t *TranscriptModel) ScrollDown(n int) {
	t.Offset -= n
	if t.Offset < 0 {
		t.Offset = 0
	}
}

func (t *TranscriptModel) maxOffset() int {
	lines := t.lines()
	if len(lines) <= t.Height {
		return 0
	}
	return len(lines) - t.Height
}

func (t *TranscriptModel) View() string {
	lines := t.lines()
	if len(lines) > t.Height {
		end := len(lines) - t.Offset
		if end > len(lines) {
			end = len(lines)
		}
		start := end - t.Height
		if start < 0 {
			start = 0
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (t *TranscriptModel) lines() []string {
	if len(t.turns) == 0 {
		return []string{"", metaStyle.Render("  Ask about your tabs. ctrl+t picks tabs, enter sends.")}
	}

	var out []string
	for _, turn := range t.turns {
		out = append(out, "")
		if turn.Sender == types.SenderUser {
			out = append(out, t.userLines(turn)...)
		} else {
			out = append(out, t.assistantLines(turn)...)
		}
	}
	return out
}

func (t *TranscriptModel) userLines(turn types.Turn) []string {
	header := userHeaderStyle.Render("You")
	if len(turn.UsedTabs) > 0 {
		refs := make([]string, len(turn.UsedTabs))
		for i, id := range turn.UsedTabs {
			refs[i] = t.chip(id)
		}
		header += "  " + strings.Join(refs, " ")
	}
	lines := []string{header}
	body := lipgloss.NewStyle().Width(t.Width - 2).Render(turn.Text)
	lines = append(lines, strings.Split(body, "\n")...)
	return lines
}

func (t *TranscriptModel) assistantLines(turn types.Turn) []string {
	header := assistantHeaderStyle.Render("BearMind")
	switch turn.Status {
	case types.StatusReading:
		header += "  " + statusStyle.Render("reading tabs...")
	case types.StatusStreaming:
		header += "  " + statusStyle.Render("...")
	}
	lines := []string{header}

	body := turn.Text
	if t.renderer != nil && turn.Status.Terminal() {
		if rendered, err := t.renderer.Render(body); err == nil {
			body = strings.Trim(rendered, "\n")
		}
	}
	body = t.chipify(body)
	if body != "" {
		lines = append(lines, strings.Split(body, "\n")...)
	}

	if turn.Status.Terminal() {
		if turn.Usage != nil && turn.Usage.TotalTokens > 0 {
			lines = append(lines, metaStyle.Render(fmt.Sprintf("  %d tokens (%d prompt, %d response)",
				turn.Usage.TotalTokens, turn.Usage.PromptTokens, turn.Usage.ResponseTokens)))
		}
		for _, chunk := range groundingChunks(turn) {
			lines = append(lines, metaStyle.Render("  source: "+chunk))
		}
	}
	return lines
}

func groundingChunks(turn types.Turn) []string {
	if turn.Grounding == nil {
		return nil
	}
	var out []string
	for _, chunk := range turn.Grounding.Chunks {
		if chunk.Web == nil {
			continue
		}
		label := chunk.Web.Title
		if label == "" {
			label = chunk.Web.URI
		}
		out = append(out, label)
	}
	return out
}

// chipify replaces TAB-<id> tokens with titled chips.
func (t *TranscriptModel) chipify(text string) string {
	return tabRefRe.ReplaceAllStringFunc(text, func(match string) string {
		id, err := strconv.Atoi(strings.TrimPrefix(match, "TAB-"))
		if err != nil {
			return match
		}
		return t.chip(id)
	})
}

func (t *TranscriptModel) chip(id int) string {
	label := fmt.Sprintf("Tab %d", id)
	if tab, ok := t.tabs[id]; ok && tab.Title != "" {
		label = truncate(tab.Title, 30)
	}
	return chipStyle.Render(label)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
