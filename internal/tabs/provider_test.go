package tabs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bearmind/bearmind/internal/bridge"
	"github.com/bearmind/bearmind/internal/types"
)

// fakeQuerier scripts bridge responses per action.
type fakeQuerier struct {
	mu         sync.Mutex
	connected  bool
	selections map[int]string
	tabsJSON   string
	activeTab  int
	failTabs   bool
	calls      map[string]int
	events     chan bridge.Event
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		connected:  true,
		selections: make(map[int]string),
		calls:      make(map[string]int),
		events:     make(chan bridge.Event, 8),
		tabsJSON:   `[{"id": 1, "url": "https://a.example", "title": "A", "active": true}]`,
		activeTab:  1,
	}
}

func (f *fakeQuerier) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeQuerier) Events() <-chan bridge.Event { return f.events }

func (f *fakeQuerier) Call(_ context.Context, action string, tabID int) (bridge.IncomingMsg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[action]++
	switch action {
	case bridge.ActionQueryTabs:
		if f.failTabs {
			return bridge.IncomingMsg{}, errors.New("query failed")
		}
		return bridge.IncomingMsg{
			ActiveTabID: f.activeTab,
			Tabs:        json.RawMessage(f.tabsJSON),
		}, nil
	case bridge.ActionReadSelection:
		return bridge.IncomingMsg{Selection: f.selections[tabID]}, nil
	}
	return bridge.IncomingMsg{}, errors.New("unknown action")
}

func TestFetchTabsFallbackWhenDisconnected(t *testing.T) {
	q := newFakeQuerier()
	q.connected = false
	p := NewProvider(q)

	result := p.FetchTabs(context.Background())
	if len(result.Tabs) != 5 {
		t.Fatalf("expected 5 fallback tabs, got %d", len(result.Tabs))
	}
	if result.CurrentTabID != 1 {
		t.Errorf("expected fallback current tab 1, got %d", result.CurrentTabID)
	}
}

func TestFetchTabsFallbackOnError(t *testing.T) {
	q := newFakeQuerier()
	q.failTabs = true
	p := NewProvider(q)

	result := p.FetchTabs(context.Background())
	if len(result.Tabs) != 5 {
		t.Fatalf("expected fallback tabs on query error, got %d tabs", len(result.Tabs))
	}
}

func TestFetchTabsLive(t *testing.T) {
	q := newFakeQuerier()
	p := NewProvider(q)

	result := p.FetchTabs(context.Background())
	if len(result.Tabs) != 1 || result.Tabs[1].Title != "A" {
		t.Fatalf("unexpected live result %+v", result)
	}
	if got := p.LastTabs(); got.CurrentTabID != 1 {
		t.Errorf("LastTabs not remembered: %+v", got)
	}
}

func TestSubscribeTabsRefCounting(t *testing.T) {
	q := newFakeQuerier()
	p := NewProvider(q)

	if p.pumpRunning() {
		t.Fatal("pump should not run before first subscriber")
	}

	unsub1 := p.SubscribeTabs(func(types.TabsResult) {})
	unsub2 := p.SubscribeTabs(func(types.TabsResult) {})
	if !p.pumpRunning() {
		t.Fatal("pump should run while subscribers exist")
	}
	if p.tabSubCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", p.tabSubCount())
	}

	unsub1()
	if !p.pumpRunning() {
		t.Fatal("pump must survive while one subscriber remains")
	}
	unsub2()
	if p.pumpRunning() {
		t.Fatal("pump must stop when the last subscriber unsubscribes")
	}
}

func TestSubscribeTabsNotifiesOnEvent(t *testing.T) {
	q := newFakeQuerier()
	p := NewProvider(q)

	got := make(chan types.TabsResult, 1)
	unsub := p.SubscribeTabs(func(r types.TabsResult) {
		select {
		case got <- r:
		default:
		}
	})
	defer unsub()

	q.events <- bridge.Event{Kind: bridge.EventTabUpdated, TabID: 1}

	select {
	case r := <-got:
		if _, ok := r.Tabs[1]; !ok {
			t.Errorf("snapshot missing tab 1: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tab change notification after bridge event")
	}
}

func TestTabRemovedFiresHook(t *testing.T) {
	q := newFakeQuerier()
	p := NewProvider(q)

	removed := make(chan int, 1)
	p.OnTabRemoved(func(tabID int) { removed <- tabID })

	unsub := p.SubscribeTabs(func(types.TabsResult) {})
	defer unsub()

	q.events <- bridge.Event{Kind: bridge.EventTabRemoved, TabID: 42}

	select {
	case id := <-removed:
		if id != 42 {
			t.Errorf("hook received tab %d, want 42", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after tab-removed event")
	}
}

func TestHighlightedTextDegradesToEmpty(t *testing.T) {
	q := newFakeQuerier()
	q.connected = false
	p := NewProvider(q)

	if got := p.HighlightedText(context.Background(), 1); got != "" {
		t.Errorf("expected empty selection without a browser, got %q", got)
	}
}

func TestSubscribeHighlightsReportsContentChange(t *testing.T) {
	q := newFakeQuerier()
	q.selections[1] = "hello"
	p := NewProvider(q)
	p.FetchTabs(context.Background())

	type change struct {
		tabID int
		has   bool
		text  string
	}
	got := make(chan change, 8)
	unsub := p.SubscribeHighlights(func(tabID int, has bool, text string) {
		got <- change{tabID, has, text}
	})
	defer unsub()

	// First observation: "" -> "hello".
	select {
	case c := <-got:
		if c.tabID != 1 || !c.has || c.text != "hello" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no highlight notification")
	}

	// Same content again must not re-fire.
	select {
	case c := <-got:
		t.Fatalf("duplicate notification for unchanged selection: %+v", c)
	case <-time.After(600 * time.Millisecond):
	}

	// Content change with presence unchanged must fire.
	q.mu.Lock()
	q.selections[1] = "hello world"
	q.mu.Unlock()

	select {
	case c := <-got:
		if c.text != "hello world" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for content-only change")
	}
}

func TestSubscribeHighlightsStopsPolling(t *testing.T) {
	q := newFakeQuerier()
	p := NewProvider(q)
	p.FetchTabs(context.Background())

	unsub := p.SubscribeHighlights(func(int, bool, string) {})
	time.Sleep(450 * time.Millisecond)
	unsub()

	// Let any in-flight poll finish before sampling the counter.
	time.Sleep(300 * time.Millisecond)
	q.mu.Lock()
	before := q.calls[bridge.ActionReadSelection]
	q.mu.Unlock()
	if before == 0 {
		t.Fatal("expected selection polls while subscribed")
	}

	time.Sleep(450 * time.Millisecond)
	q.mu.Lock()
	after := q.calls[bridge.ActionReadSelection]
	q.mu.Unlock()
	if after != before {
		t.Errorf("polling continued after last unsubscribe: %d -> %d", before, after)
	}
}
