package tui

import (
	"strings"
	"testing"

	"github.com/bearmind/bearmind/internal/types"
)

func pickerResult() types.TabsResult {
	return types.TabsResult{
		CurrentTabID: 3,
		Tabs: map[int]types.Tab{
			1: {ID: 1, Title: "First"},
			3: {ID: 3, Title: "Current"},
			7: {ID: 7, Title: "Last"},
		},
	}
}

func TestTabPickerOrderAndSelection(t *testing.T) {
	p := NewTabPicker()
	p.SetTabs(pickerResult(), nil, nil, nil)

	// Current tab first, then ascending ids.
	if p.CursorTab() != 3 {
		t.Errorf("expected cursor on current tab, got %d", p.CursorTab())
	}
	p.MoveDown()
	if p.CursorTab() != 1 {
		t.Errorf("expected tab 1 second, got %d", p.CursorTab())
	}

	// Selection order is preserved, not sorted.
	p.Toggle() // tab 1
	p.MoveUp()
	p.Toggle() // tab 3
	got := p.Selected()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("selection order not preserved: %v", got)
	}

	// Toggling off removes from the order.
	p.MoveDown()
	p.Toggle()
	got = p.Selected()
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("expected only tab 3 selected: %v", got)
	}
}

func TestTabPickerDropsClosedTabs(t *testing.T) {
	p := NewTabPicker()
	p.SetTabs(pickerResult(), nil, nil, nil)
	p.Toggle() // current tab 3

	p.SetTabs(types.TabsResult{
		CurrentTabID: 1,
		Tabs:         map[int]types.Tab{1: {ID: 1, Title: "First"}},
	}, nil, nil, nil)

	if got := p.Selected(); len(got) != 0 {
		t.Errorf("closed tab still selected: %v", got)
	}
}

func TestChipify(t *testing.T) {
	tr := TranscriptModel{tabs: map[int]types.Tab{12: {ID: 12, Title: "Go Blog"}}}

	out := tr.chipify("See TAB-12 and TAB-99 for details.")
	if strings.Contains(out, "TAB-12") {
		t.Errorf("known tab reference not replaced: %q", out)
	}
	if !strings.Contains(out, "Go Blog") {
		t.Errorf("chip missing the tab title: %q", out)
	}
	if !strings.Contains(out, "Tab 99") {
		t.Errorf("unknown tab should fall back to a numbered chip: %q", out)
	}
}
