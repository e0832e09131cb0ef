package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bearmind/bearmind/internal/storage"
	"github.com/bearmind/bearmind/internal/types"
)

type fakeExtractor struct {
	mu    sync.Mutex
	pages map[int]string
	fail  map[int]bool
	calls map[int]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		pages: make(map[int]string),
		fail:  make(map[int]bool),
		calls: make(map[int]int),
	}
}

func (f *fakeExtractor) Extract(_ context.Context, tab types.Tab) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[tab.ID]++
	if f.fail[tab.ID] {
		return "", errors.New("extraction failed")
	}
	return f.pages[tab.ID], nil
}

func (f *fakeExtractor) callCount(tabID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tabID]
}

var testTabs = map[int]types.Tab{
	1: {ID: 1, Title: "Docs", URL: "https://example.com/docs"},
	2: {ID: 2, Title: "Blog", URL: "https://example.com/blog"},
	3: {ID: 3, Title: "Video", URL: "https://youtu.be/abc12345678"},
}

func TestReadTabsConvertsAndCaches(t *testing.T) {
	ex := newFakeExtractor()
	ex.pages[1] = "# Docs\nBody"
	c := New(nil)

	got := c.ReadTabs(context.Background(), []int{1}, testTabs, ex, nil)
	if got[1] != "# Docs\nBody" {
		t.Fatalf("unexpected result %+v", got)
	}
	if md, ok := c.Get(1); !ok || md != "# Docs\nBody" {
		t.Errorf("cache entry missing after conversion")
	}
}

func TestReadTabsIdempotent(t *testing.T) {
	ex := newFakeExtractor()
	ex.pages[1] = "content"
	c := New(nil)

	c.ReadTabs(context.Background(), []int{1}, testTabs, ex, nil)
	second := c.ReadTabs(context.Background(), []int{1}, testTabs, ex, nil)

	if ex.callCount(1) != 1 {
		t.Errorf("expected exactly 1 extraction, got %d", ex.callCount(1))
	}
	if len(second) != 0 {
		t.Errorf("second call should process nothing, got %+v", second)
	}
}

func TestReadTabsRereadInvalidation(t *testing.T) {
	ex := newFakeExtractor()
	ex.pages[1] = "v1"
	c := New(nil)

	c.ReadTabs(context.Background(), []int{1}, testTabs, ex, nil)

	ex.mu.Lock()
	ex.pages[1] = "v2"
	ex.mu.Unlock()
	c.FlagReread(1)

	got := c.ReadTabs(context.Background(), []int{1}, testTabs, ex, nil)
	if ex.callCount(1) != 2 {
		t.Errorf("re-read flagged tab must be re-extracted, got %d calls", ex.callCount(1))
	}
	if got[1] != "v2" {
		t.Errorf("expected fresh content, got %q", got[1])
	}
	if c.RereadFlagged(1) {
		t.Error("re-read flag must clear after extraction")
	}
}

func TestReadTabsSkipsVideoTabs(t *testing.T) {
	ex := newFakeExtractor()
	c := New(nil)

	var processed []int
	got := c.ReadTabs(context.Background(), []int{3}, testTabs, ex, func(id int) {
		processed = append(processed, id)
	})

	if len(got) != 0 {
		t.Errorf("video tab must not be converted: %+v", got)
	}
	if len(processed) != 0 {
		t.Errorf("video tab must not report progress: %v", processed)
	}
	if ex.callCount(3) != 0 {
		t.Errorf("video tab must not reach the extractor")
	}
}

func TestReadTabsProgressFiresOnFailure(t *testing.T) {
	ex := newFakeExtractor()
	ex.fail[2] = true
	c := New(nil)

	var processed []int
	got := c.ReadTabs(context.Background(), []int{2}, testTabs, ex, func(id int) {
		processed = append(processed, id)
	})

	if len(processed) != 1 || processed[0] != 2 {
		t.Errorf("progress must fire even for failed extraction: %v", processed)
	}
	if _, ok := got[2]; ok {
		t.Error("failed extraction must not appear in results")
	}
	if _, ok := c.Get(2); ok {
		t.Error("failed extraction must not be cached")
	}

	// The failure must not poison the converted set: a retry extracts again.
	ex.mu.Lock()
	ex.fail[2] = false
	ex.pages[2] = "recovered"
	ex.mu.Unlock()
	got = c.ReadTabs(context.Background(), []int{2}, testTabs, ex, nil)
	if got[2] != "recovered" {
		t.Errorf("expected retry to extract, got %+v", got)
	}
}

func TestReadTabsUnknownTabSkipped(t *testing.T) {
	ex := newFakeExtractor()
	c := New(nil)

	got := c.ReadTabs(context.Background(), []int{99}, testTabs, ex, nil)
	if len(got) != 0 {
		t.Errorf("unknown tab must be skipped: %+v", got)
	}
}

func TestCachePersistence(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ex := newFakeExtractor()
	ex.pages[1] = "persisted markdown"

	c := New(db)
	c.ReadTabs(context.Background(), []int{1}, testTabs, ex, nil)

	// A second cache over the same db sees the conversion.
	c2 := New(db)
	if md, ok := c2.Get(1); !ok || md != "persisted markdown" {
		t.Errorf("conversion did not survive reload: %q, %v", md, ok)
	}

	c2.Reset()
	c3 := New(db)
	if _, ok := c3.Get(1); ok {
		t.Error("reset must clear persisted conversions")
	}
}
