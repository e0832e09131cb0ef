// Package extract turns a tab's rendered document into semantic markdown.
// The raw HTML arrives via the extension bridge (the extension injects a
// document reader into the tab); a readability pass strips site chrome, and
// the remainder is converted to markdown.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/bridge"
	"github.com/bearmind/bearmind/internal/types"
)

// ErrVideoTab marks tabs on video hosts, which are never scraped as text.
var ErrVideoTab = errors.New("extract: video tab is handled as a media reference")

// ContentReader is the bridge slice the extractor needs.
type ContentReader interface {
	Connected() bool
	Call(ctx context.Context, action string, tabID int) (bridge.IncomingMsg, error)
}

// Extractor converts tab documents to markdown.
type Extractor struct {
	r ContentReader
}

// New creates an Extractor reading through the given bridge.
func New(r ContentReader) *Extractor {
	return &Extractor{r: r}
}

// Extract retrieves the tab's document and returns its markdown rendering.
// Any failure returns an error; callers skip the tab and cache nothing.
func (e *Extractor) Extract(ctx context.Context, tab types.Tab) (string, error) {
	if tab.IsVideo() {
		return "", ErrVideoTab
	}
	if !e.r.Connected() {
		return "", bridge.ErrNotConnected
	}

	msg, err := e.r.Call(ctx, bridge.ActionReadContent, tab.ID)
	if err != nil {
		return "", fmt.Errorf("read tab %d: %w", tab.ID, err)
	}
	if msg.Content == "" {
		return "", fmt.Errorf("no content received from tab %d", tab.ID)
	}

	cleaned := e.clean(msg.Content, tab.URL)
	markdown, err := FromHTML(cleaned)
	if err != nil {
		return "", fmt.Errorf("convert tab %d: %w", tab.ID, err)
	}
	if strings.TrimSpace(markdown) == "" {
		return "", fmt.Errorf("tab %d produced empty markdown", tab.ID)
	}

	applog.Info("extract.done", "tab", tab.ID, "bytes", len(markdown))
	return markdown, nil
}

// clean runs the readability pass. A page readability cannot handle is
// converted from its raw HTML instead.
func (e *Extractor) clean(rawHTML, pageURL string) string {
	var u *url.URL
	if pageURL != "" {
		u, _ = url.Parse(pageURL)
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		if err != nil {
			applog.Debug("extract.readability", "err", err.Error())
		}
		return rawHTML
	}
	// Keep the title as a top-level heading; readability lifts it out of
	// the content body.
	if article.Title != "" {
		return "<h1>" + article.Title + "</h1>" + article.Content
	}
	return article.Content
}
