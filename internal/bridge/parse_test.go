package bridge

import (
	"context"
	"encoding/json"
	"testing"
)

func TestParseTabs(t *testing.T) {
	msg := IncomingMsg{
		ActiveTabID: 7,
		Tabs: json.RawMessage(`[
			{"id": 7, "url": "https://example.com", "title": "Example", "favIconUrl": "https://example.com/favicon.ico", "active": true},
			{"id": 9, "url": "https://go.dev", "title": "The Go Programming Language"}
		]`),
	}

	result, err := ParseTabs(msg)
	if err != nil {
		t.Fatalf("ParseTabs: %v", err)
	}

	if result.CurrentTabID != 7 {
		t.Errorf("expected CurrentTabID=7, got %d", result.CurrentTabID)
	}
	if len(result.Tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(result.Tabs))
	}
	if result.Tabs[7].Title != "Example" {
		t.Errorf("tab 7 title = %q", result.Tabs[7].Title)
	}
	if result.Tabs[9].URL != "https://go.dev" {
		t.Errorf("tab 9 url = %q", result.Tabs[9].URL)
	}
}

func TestParseTabsActiveFallback(t *testing.T) {
	// No explicit activeTabId — the tab flagged active wins.
	msg := IncomingMsg{
		Tabs: json.RawMessage(`[
			{"id": 1, "url": "https://a.example", "title": "A"},
			{"id": 2, "url": "https://b.example", "title": "B", "active": true}
		]`),
	}

	result, err := ParseTabs(msg)
	if err != nil {
		t.Fatalf("ParseTabs: %v", err)
	}
	if result.CurrentTabID != 2 {
		t.Errorf("expected CurrentTabID=2, got %d", result.CurrentTabID)
	}
}

func TestParseTabsInvalid(t *testing.T) {
	msg := IncomingMsg{Tabs: json.RawMessage(`{"not": "a list"}`)}
	if _, err := ParseTabs(msg); err == nil {
		t.Fatal("expected error for malformed tabs payload")
	}
}

func TestParseTabsUntitled(t *testing.T) {
	msg := IncomingMsg{Tabs: json.RawMessage(`[{"id": 3, "url": "https://c.example"}]`)}
	result, err := ParseTabs(msg)
	if err != nil {
		t.Fatalf("ParseTabs: %v", err)
	}
	if result.Tabs[3].Title != "Untitled Tab" {
		t.Errorf("expected untitled fallback, got %q", result.Tabs[3].Title)
	}
}

func TestDispatchCorrelation(t *testing.T) {
	b := New(0)

	ch := make(chan IncomingMsg, 1)
	b.mu.Lock()
	b.pending["req-1"] = ch
	b.mu.Unlock()

	b.dispatch(IncomingMsg{ID: "req-1", Content: "<html></html>"})

	select {
	case msg := <-ch:
		if msg.Content != "<html></html>" {
			t.Errorf("unexpected content %q", msg.Content)
		}
	default:
		t.Fatal("response was not routed to the pending call")
	}
}

func TestDispatchEvent(t *testing.T) {
	b := New(0)
	b.dispatch(IncomingMsg{Event: EventTabRemoved, TabID: 12})

	select {
	case ev := <-b.Events():
		if ev.Kind != EventTabRemoved || ev.TabID != 12 {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("event was not delivered")
	}
}

func TestCallNotConnected(t *testing.T) {
	b := New(0)
	if _, err := b.Call(context.Background(), ActionQueryTabs, 0); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
