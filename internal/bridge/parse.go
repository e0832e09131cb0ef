package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/bearmind/bearmind/internal/types"
)

type wireTab struct {
	ID         int    `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	FavIconURL string `json:"favIconUrl"`
	Active     bool   `json:"active"`
}

// ParseTabs converts a query-tabs response into a TabsResult. The active
// tab id from the payload wins; an explicitly active tab in the list is the
// fallback.
func ParseTabs(msg IncomingMsg) (types.TabsResult, error) {
	var tabs []wireTab
	if err := json.Unmarshal(msg.Tabs, &tabs); err != nil {
		return types.TabsResult{}, fmt.Errorf("parse tabs: %w", err)
	}

	result := types.TabsResult{
		CurrentTabID: msg.ActiveTabID,
		Tabs:         make(map[int]types.Tab, len(tabs)),
	}
	for _, wt := range tabs {
		result.Tabs[wt.ID] = types.Tab{
			ID:      wt.ID,
			Title:   orUntitled(wt.Title),
			Favicon: wt.FavIconURL,
			URL:     wt.URL,
		}
		if result.CurrentTabID == 0 && wt.Active {
			result.CurrentTabID = wt.ID
		}
	}
	return result, nil
}

func orUntitled(title string) string {
	if title == "" {
		return "Untitled Tab"
	}
	return title
}
