// Package tabs provides snapshots of the browser's open tabs plus change
// and text-selection subscriptions, backed by the extension bridge. With no
// extension attached every query degrades to a fixed fallback tab set, so
// the rest of the pipeline works without a live browser.
package tabs

import (
	"context"
	"sync"
	"time"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/bridge"
	"github.com/bearmind/bearmind/internal/types"
)

// Querier is the slice of the bridge the provider needs. Satisfied by
// *bridge.Bridge; tests substitute a fake.
type Querier interface {
	Connected() bool
	Call(ctx context.Context, action string, tabID int) (bridge.IncomingMsg, error)
	Events() <-chan bridge.Event
}

// TabChangeFunc receives a fresh snapshot after any tab lifecycle event.
type TabChangeFunc func(types.TabsResult)

// HighlightChangeFunc receives selection changes per tab.
type HighlightChangeFunc func(tabID int, hasHighlight bool, text string)

const (
	// activePollInterval is how often the active tab's selection is read.
	activePollInterval = 200 * time.Millisecond
	// backgroundEvery is how many active ticks pass between polls of
	// non-active tabs (200ms * 5 = 1s).
	backgroundEvery = 5
	// debounceDelay collapses rapid-fire selection changes into one event.
	debounceDelay = 150 * time.Millisecond
	// refreshInterval re-fetches tabs when no bridge events arrive.
	refreshInterval = 10 * time.Second
)

// Provider owns the listener registries and polling resources. Registries
// are reference counted: the underlying event pump and poll timers exist
// only while at least one subscriber is registered.
type Provider struct {
	q Querier

	mu sync.Mutex

	tabSubs    map[int]TabChangeFunc
	nextTabSub int
	pumpStop   chan struct{}

	hlSubs    map[int]HighlightChangeFunc
	nextHlSub int
	pollStop  chan struct{}

	lastTabs   types.TabsResult
	highlights map[int]string
	onRemoved  func(tabID int)
}

// NewProvider creates a Provider on top of the given bridge.
func NewProvider(q Querier) *Provider {
	return &Provider{
		q:          q,
		tabSubs:    make(map[int]TabChangeFunc),
		hlSubs:     make(map[int]HighlightChangeFunc),
		highlights: make(map[int]string),
	}
}

// OnTabRemoved registers fn to run whenever the browser reports a closed
// tab. Callers use it to drop per-tab state, like cached conversions.
func (p *Provider) OnTabRemoved(fn func(tabID int)) {
	p.mu.Lock()
	p.onRemoved = fn
	p.mu.Unlock()
}

// FetchTabs queries the browser for the current tab set. Any failure, or a
// missing extension, degrades to the fallback tabs.
func (p *Provider) FetchTabs(ctx context.Context) types.TabsResult {
	if !p.q.Connected() {
		result := types.FallbackTabs()
		p.remember(result)
		return result
	}

	msg, err := p.q.Call(ctx, bridge.ActionQueryTabs, 0)
	if err != nil {
		applog.Error("tabs.query", err)
		result := types.FallbackTabs()
		p.remember(result)
		return result
	}
	result, err := bridge.ParseTabs(msg)
	if err != nil {
		applog.Error("tabs.parse", err)
		result = types.FallbackTabs()
	}
	p.remember(result)
	return result
}

func (p *Provider) remember(r types.TabsResult) {
	p.mu.Lock()
	p.lastTabs = r
	p.mu.Unlock()
}

// LastTabs returns the most recent snapshot without querying the browser.
func (p *Provider) LastTabs() types.TabsResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTabs
}

// SubscribeTabs registers cb for tab change notifications and returns an
// unsubscribe function. The bridge event pump starts with the first
// subscriber and stops with the last.
func (p *Provider) SubscribeTabs(cb TabChangeFunc) func() {
	p.mu.Lock()
	id := p.nextTabSub
	p.nextTabSub++
	p.tabSubs[id] = cb
	startPump := len(p.tabSubs) == 1
	if startPump {
		p.pumpStop = make(chan struct{})
	}
	stop := p.pumpStop
	p.mu.Unlock()

	if startPump {
		go p.pump(stop)
	}

	return func() {
		p.mu.Lock()
		delete(p.tabSubs, id)
		if len(p.tabSubs) == 0 && p.pumpStop != nil {
			close(p.pumpStop)
			p.pumpStop = nil
		}
		p.mu.Unlock()
	}
}

// pump refreshes the snapshot on every bridge event, or on a slow timer when
// the extension is silent or absent.
func (p *Provider) pump(stop chan struct{}) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ev := <-p.q.Events():
			applog.Debug("tabs.event", "kind", ev.Kind, "tab", ev.TabID)
			if ev.Kind == bridge.EventTabRemoved {
				p.mu.Lock()
				fn := p.onRemoved
				p.mu.Unlock()
				if fn != nil {
					fn(ev.TabID)
				}
			}
			p.notifyTabChange()
		case <-ticker.C:
			p.notifyTabChange()
		}
	}
}

func (p *Provider) notifyTabChange() {
	ctx, cancel := context.WithTimeout(context.Background(), bridge.DefaultCallTimeout)
	result := p.FetchTabs(ctx)
	cancel()

	p.mu.Lock()
	subs := make([]TabChangeFunc, 0, len(p.tabSubs))
	for _, cb := range p.tabSubs {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	for _, cb := range subs {
		cb(result)
	}
}

// tabSubCount is a test hook.
func (p *Provider) tabSubCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tabSubs)
}

// pumpRunning is a test hook.
func (p *Provider) pumpRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pumpStop != nil
}
