package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bearmind/bearmind/internal/types"
)

var (
	pickerTitleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	pickerCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	pickerDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	pickerBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// TabPicker selects which tabs accompany the next submission. Selection
// order is preserved; it determines context block order in the payload.
type TabPicker struct {
	Width  int
	Height int

	cursor     int
	order      []int // display order, current tab first then ascending id
	tabs       map[int]types.Tab
	currentID  int
	selOrder   []int
	selected   map[int]bool
	converted  map[int]bool
	reread     map[int]bool
	highlights map[int]string
}

func NewTabPicker() TabPicker {
	return TabPicker{
		selected:  make(map[int]bool),
		converted: make(map[int]bool),
		reread:    make(map[int]bool),
	}
}

// SetTabs refreshes the picker from a snapshot. Selections for tabs that no
// longer exist are dropped.
func (p *TabPicker) SetTabs(result types.TabsResult, highlights map[int]string, convertedIDs []int, rereadFlagged func(int) bool) {
	p.tabs = result.Tabs
	p.currentID = result.CurrentTabID
	p.highlights = highlights

	p.order = p.order[:0]
	var rest []int
	for id := range result.Tabs {
		if id == result.CurrentTabID {
			continue
		}
		rest = append(rest, id)
	}
	sort.Ints(rest)
	if _, ok := result.Tabs[result.CurrentTabID]; ok {
		p.order = append(p.order, result.CurrentTabID)
	}
	p.order = append(p.order, rest...)

	p.converted = make(map[int]bool)
	for _, id := range convertedIDs {
		p.converted[id] = true
	}
	p.reread = make(map[int]bool)
	for _, id := range p.order {
		if rereadFlagged != nil && rereadFlagged(id) {
			p.reread[id] = true
		}
	}

	kept := p.selOrder[:0]
	for _, id := range p.selOrder {
		if _, ok := result.Tabs[id]; ok {
			kept = append(kept, id)
		} else {
			delete(p.selected, id)
		}
	}
	p.selOrder = kept

	if p.cursor >= len(p.order) {
		p.cursor = len(p.order) - 1
	}
	if p.cursor < 0 {
		p.cursor = 0
	}
}

func (p *TabPicker) MoveUp() {
	if p.cursor > 0 {
		p.cursor--
	}
}

func (p *TabPicker) MoveDown() {
	if p.cursor < len(p.order)-1 {
		p.cursor++
	}
}

// Toggle flips the selection under the cursor.
func (p *TabPicker) Toggle() {
	if p.cursor >= len(p.order) {
		return
	}
	id := p.order[p.cursor]
	if p.selected[id] {
		delete(p.selected, id)
		for i, sel := range p.selOrder {
			if sel == id {
				p.selOrder = append(p.selOrder[:i], p.selOrder[i+1:]...)
				break
			}
		}
		return
	}
	p.selected[id] = true
	p.selOrder = append(p.selOrder, id)
}

// CursorTab returns the tab id under the cursor, or 0.
func (p *TabPicker) CursorTab() int {
	if p.cursor >= len(p.order) {
		return 0
	}
	return p.order[p.cursor]
}

// MarkReread records the flag locally so the row updates immediately.
func (p *TabPicker) MarkReread(id int, flagged bool) {
	if flagged {
		p.reread[id] = true
	} else {
		delete(p.reread, id)
	}
}

// Selected returns the chosen tab ids in selection order.
func (p *TabPicker) Selected() []int {
	out := make([]int, len(p.selOrder))
	copy(out, p.selOrder)
	return out
}

// ClearSelection drops all selections, keeping the cursor.
func (p *TabPicker) ClearSelection() {
	p.selected = make(map[int]bool)
	p.selOrder = p.selOrder[:0]
}

func (p *TabPicker) View() string {
	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render("Select tabs for context"))
	b.WriteString("\n\n")

	for i, id := range p.order {
		tab := p.tabs[id]
		mark := "[ ]"
		if p.selected[id] {
			mark = "[x]"
		}
		var flags []string
		if id == p.currentID {
			flags = append(flags, "current")
		}
		if p.converted[id] && !p.reread[id] {
			flags = append(flags, "read")
		}
		if p.reread[id] {
			flags = append(flags, "re-read")
		}
		if p.highlights[id] != "" {
			flags = append(flags, "highlight")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = pickerDimStyle.Render(" (" + strings.Join(flags, ", ") + ")")
		}

		title := tab.Title
		if title == "" {
			title = tab.URL
		}
		line := fmt.Sprintf("%s %s", mark, truncate(title, p.Width-16))
		if i == p.cursor {
			line = pickerCursorStyle.Render(line)
		}
		b.WriteString("  " + line + suffix + "\n")
	}

	b.WriteString("\n")
	b.WriteString(pickerDimStyle.Render("space select · r re-read · enter/esc close"))
	return pickerBoxStyle.Render(b.String())
}
