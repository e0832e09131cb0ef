// Package cache holds the per-tab markdown conversions. A tab is extracted
// once per session; the user can flag a tab for re-read to force a fresh
// extraction on the next submission.
package cache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/storage"
	"github.com/bearmind/bearmind/internal/types"
)

// Extractor converts one tab to markdown. Satisfied by *extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, tab types.Tab) (string, error)
}

// Cache is the conversion cache plus the converted/re-read flag sets.
// All state is guarded by one mutex so a submission's decide-then-extract
// sequence can reserve its tabs atomically.
type Cache struct {
	mu        sync.Mutex
	db        *sql.DB // nil = memory only
	contents  map[int]string
	converted map[int]bool
	reread    map[int]bool
}

// New creates an empty cache. With a non-nil db, conversions persist and
// previously stored ones are loaded back.
func New(db *sql.DB) *Cache {
	c := &Cache{
		db:        db,
		contents:  make(map[int]string),
		converted: make(map[int]bool),
		reread:    make(map[int]bool),
	}
	if db != nil {
		ids, err := storage.ListConvertedIDs(db)
		if err != nil {
			applog.Error("cache.load", err)
			return c
		}
		for _, id := range ids {
			markdown, ok, err := storage.GetConversion(db, id)
			if err != nil || !ok {
				continue
			}
			c.contents[id] = markdown
			c.converted[id] = true
		}
	}
	return c
}

// Get returns the cached markdown for a tab.
func (c *Cache) Get(tabID int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	md, ok := c.contents[tabID]
	return md, ok
}

// Contents returns a copy of all cached conversions.
func (c *Cache) Contents() map[int]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]string, len(c.contents))
	for id, md := range c.contents {
		out[id] = md
	}
	return out
}

// ConvertedIDs returns the tabs with a valid conversion.
func (c *Cache) ConvertedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.converted))
	for id := range c.converted {
		ids = append(ids, id)
	}
	return ids
}

// FlagReread marks a tab for re-extraction on its next use.
func (c *Cache) FlagReread(tabID int) {
	c.mu.Lock()
	c.reread[tabID] = true
	c.mu.Unlock()
}

// ClearReread removes a pending re-read flag.
func (c *Cache) ClearReread(tabID int) {
	c.mu.Lock()
	delete(c.reread, tabID)
	c.mu.Unlock()
}

// RereadFlagged reports whether a tab is flagged for re-read.
func (c *Cache) RereadFlagged(tabID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reread[tabID]
}

// Forget drops a tab's conversion entirely (tab closed).
func (c *Cache) Forget(tabID int) {
	c.mu.Lock()
	delete(c.contents, tabID)
	delete(c.converted, tabID)
	delete(c.reread, tabID)
	db := c.db
	c.mu.Unlock()
	if db != nil {
		if err := storage.DeleteConversion(db, tabID); err != nil {
			applog.Error("cache.forget", err, "tab", tabID)
		}
	}
}

// Reset clears everything (conversation reset).
func (c *Cache) Reset() {
	c.mu.Lock()
	c.contents = make(map[int]string)
	c.converted = make(map[int]bool)
	c.reread = make(map[int]bool)
	db := c.db
	c.mu.Unlock()
	if db != nil {
		if err := storage.ClearConversions(db); err != nil {
			applog.Error("cache.reset", err)
		}
	}
}

// ReadTabs ensures every used tab has a conversion, extracting the ones that
// are new or flagged for re-read. Video tabs are skipped outright — they are
// handled as media references, not text. onProcessed fires for every tab
// that is actually extracted, before the extraction completes, so the caller
// can surface "reading" progress; it fires even when extraction then fails.
// The returned map holds only the conversions produced by this call.
func (c *Cache) ReadTabs(ctx context.Context, usedTabs []int, tabs map[int]types.Tab, ex Extractor, onProcessed func(tabID int)) map[int]string {
	// Reserve work under the lock: a tab picked here is immediately marked
	// converted so a concurrent reader of the same submission state cannot
	// extract it a second time. Failed extractions are rolled back below.
	c.mu.Lock()
	var toProcess []types.Tab
	for _, tabID := range usedTabs {
		if c.converted[tabID] && !c.reread[tabID] {
			continue
		}
		tab, ok := tabs[tabID]
		if !ok {
			continue
		}
		if tab.IsVideo() {
			applog.Debug("cache.skip_video", "tab", tabID)
			continue
		}
		c.converted[tabID] = true
		delete(c.reread, tabID)
		toProcess = append(toProcess, tab)
	}
	c.mu.Unlock()

	results := make(map[int]string)
	for _, tab := range toProcess {
		if onProcessed != nil {
			onProcessed(tab.ID)
		}

		markdown, err := ex.Extract(ctx, tab)
		if err != nil {
			applog.Error("cache.extract", err, "tab", tab.ID)
			c.mu.Lock()
			delete(c.converted, tab.ID)
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.contents[tab.ID] = markdown
		db := c.db
		c.mu.Unlock()

		if db != nil {
			if err := storage.PutConversion(db, tab.ID, tab.URL, markdown); err != nil {
				applog.Error("cache.persist", err, "tab", tab.ID)
			}
		}
		results[tab.ID] = markdown
		applog.Info("cache.converted", "tab", tab.ID, "bytes", len(markdown))
	}
	return results
}
