package tabs

import (
	"context"
	"sync"
	"time"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/bridge"
)

// HighlightedText reads the current text selection in a tab. Any failure
// degrades to the empty string; absence of a selection and a failed read are
// indistinguishable by design.
func (p *Provider) HighlightedText(ctx context.Context, tabID int) string {
	if !p.q.Connected() {
		return ""
	}
	msg, err := p.q.Call(ctx, bridge.ActionReadSelection, tabID)
	if err != nil {
		applog.Error("tabs.selection", err, "tab", tabID)
		return ""
	}
	return msg.Selection
}

// Highlights returns a copy of the last observed selection per tab.
// Tabs without a selection are absent, which readers treat as "".
func (p *Provider) Highlights() map[int]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]string, len(p.highlights))
	for id, text := range p.highlights {
		out[id] = text
	}
	return out
}

// SubscribeHighlights registers cb for selection changes and returns an
// unsubscribe function. Polling starts with the first subscriber: the
// active tab every 200ms, all other tabs every second. A change fires when
// either the presence of a selection or its content differs from the last
// observation, and notifications are debounced so a drag-select lands as one
// event rather than dozens.
func (p *Provider) SubscribeHighlights(cb HighlightChangeFunc) func() {
	p.mu.Lock()
	id := p.nextHlSub
	p.nextHlSub++
	p.hlSubs[id] = cb
	startPoll := len(p.hlSubs) == 1
	if startPoll {
		p.pollStop = make(chan struct{})
		p.highlights = make(map[int]string)
	}
	stop := p.pollStop
	p.mu.Unlock()

	if startPoll {
		go p.pollHighlights(stop)
	}

	return func() {
		p.mu.Lock()
		delete(p.hlSubs, id)
		if len(p.hlSubs) == 0 && p.pollStop != nil {
			close(p.pollStop)
			p.pollStop = nil
		}
		p.mu.Unlock()
	}
}

type highlightChange struct {
	tabID        int
	hasHighlight bool
	text         string
}

func (p *Provider) pollHighlights(stop chan struct{}) {
	ticker := time.NewTicker(activePollInterval)
	defer ticker.Stop()

	deb := newDebouncer(debounceDelay, func(changes []highlightChange) {
		p.mu.Lock()
		subs := make([]HighlightChangeFunc, 0, len(p.hlSubs))
		for _, cb := range p.hlSubs {
			subs = append(subs, cb)
		}
		p.mu.Unlock()
		for _, c := range changes {
			for _, cb := range subs {
				cb(c.tabID, c.hasHighlight, c.text)
			}
		}
	})
	defer deb.stop()

	tick := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tick++
			snapshot := p.LastTabs()
			if snapshot.Tabs == nil {
				ctx, cancel := context.WithTimeout(context.Background(), bridge.DefaultCallTimeout)
				snapshot = p.FetchTabs(ctx)
				cancel()
			}

			p.checkTab(snapshot.CurrentTabID, deb)
			if tick%backgroundEvery == 0 {
				for id := range snapshot.Tabs {
					if id != snapshot.CurrentTabID {
						p.checkTab(id, deb)
					}
				}
			}
		}
	}
}

// checkTab polls one tab's selection and queues a change if it differs.
// Errors are swallowed inside HighlightedText so one broken tab never stops
// the loop for the rest.
func (p *Provider) checkTab(tabID int, deb *debouncer) {
	if tabID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bridge.DefaultCallTimeout)
	text := p.HighlightedText(ctx, tabID)
	cancel()

	p.mu.Lock()
	// A missing key reads as "", so content comparison covers the
	// presence-of-highlight transition too.
	last := p.highlights[tabID]
	changed := text != last
	if changed {
		p.highlights[tabID] = text
	}
	p.mu.Unlock()

	if changed {
		deb.add(highlightChange{tabID: tabID, hasHighlight: text != "", text: text})
	}
}

// debouncer batches changes and flushes them once the delay elapses after
// the first queued change.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending []highlightChange
	timer   *time.Timer
	flush   func([]highlightChange)
}

func newDebouncer(delay time.Duration, flush func([]highlightChange)) *debouncer {
	return &debouncer{delay: delay, flush: flush}
}

func (d *debouncer) add(c highlightChange) {
	d.mu.Lock()
	d.pending = append(d.pending, c)
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
	d.mu.Unlock()
}

func (d *debouncer) fire() {
	d.mu.Lock()
	changes := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	if len(changes) > 0 {
		d.flush(changes)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()
}
