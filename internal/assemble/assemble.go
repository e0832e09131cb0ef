// Package assemble builds the provider payload for one user turn: the prior
// conversation as provider-format history, the system prompt, and the user
// message with tab context blocks, highlight excerpts and an optional video
// reference.
package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bearmind/bearmind/internal/types"
)

// SystemPrompt is the fixed assistant persona. The TAB-<id> convention is a
// contract with the renderer, which parses bare TAB-<id> tokens in assistant
// output back into rich tab chips; the wording must stay as is.
const SystemPrompt = "You are a helpful assistant name BearMind. Your a an AI companion for browsing the internet on a browser. User can ask you question about their tabs, the tab content will be provided for you to answer. If you not sure about your answer, use Search Tool if available\n" +
	`If you mention specific tab in the context write it as "TAB-<TAB-ID>" as a word no leading character and styling syntax before and after, for example "TAB-123", and it will be parsed and render properly in the UI. Do not use TAB syntax for sources of search information.`

// videoInstruction is appended when the current tab's video is attached
// without the user having pasted its link.
const videoInstruction = "\n\nALSO, ANSWER BASE ON THE VIDEO, PREFER TO GENERATE STRUCTURE ANSWER WITH TIMESTAMP MM:SS\n"

// Part is one unit of user-message content, provider-agnostic: either text
// or a media reference. Conversion to the provider's wire shape happens at
// the provider boundary only.
type Part struct {
	Text     string
	FileURI  string
	MimeType string
}

// HistoryEntry is one prior turn in provider-role form.
type HistoryEntry struct {
	Role string // "user" or "model"
	Text string
}

// Input is the current submission.
type Input struct {
	Text         string
	UsedTabs     []int
	Highlighted  map[int]string
	CurrentTabID int
}

// Assembled is the provider-ready payload.
type Assembled struct {
	History      []HistoryEntry
	SystemPrompt string
	UserParts    []Part
}

// Build assembles the payload for one submission. contents is the
// conversion cache (tab id to markdown), tabs the latest snapshot.
func Build(in Input, prior []types.Turn, contents map[int]string, tabs map[int]types.Tab) Assembled {
	out := Assembled{
		History:      historyEntries(prior),
		SystemPrompt: SystemPrompt,
	}

	context := contextBlocks(in, contents, tabs)
	userText := in.Text + highlightBlocks(in, tabs)
	userText, fileURI := videoReference(userText, in.CurrentTabID, tabs)

	if fileURI != "" {
		out.UserParts = append(out.UserParts, Part{FileURI: fileURI, MimeType: types.VideoMimeType})
	}
	out.UserParts = append(out.UserParts, Part{Text: userText + context})
	return out
}

// historyEntries translates prior turns to provider roles, preserving
// order. Turns that have not reached a terminal status are excluded: a
// mid-stream assistant turn would feed partial text back to the model.
func historyEntries(prior []types.Turn) []HistoryEntry {
	var entries []HistoryEntry
	for _, turn := range prior {
		if !turn.Status.Terminal() {
			continue
		}
		role := "user"
		if turn.Sender == types.SenderAssistant {
			role = "model"
		}
		entries = append(entries, HistoryEntry{Role: role, Text: turn.Text})
	}
	return entries
}

// contextBlocks emits the current tab's markdown first, then every other
// used tab's in selection order. Tabs without a cache entry are silently
// omitted.
func contextBlocks(in Input, contents map[int]string, tabs map[int]types.Tab) string {
	var b strings.Builder

	if in.CurrentTabID != 0 {
		if md, ok := contents[in.CurrentTabID]; ok {
			title := "Current Tab"
			if tab, found := tabs[in.CurrentTabID]; found && tab.Title != "" {
				title = tab.Title
			}
			fmt.Fprintf(&b, "\n\nCONTENT FROM CURRENT TAB '%s' (ID: %d):\n%s", title, in.CurrentTabID, md)
		}
	}

	for _, tabID := range in.UsedTabs {
		if tabID == in.CurrentTabID {
			continue
		}
		md, ok := contents[tabID]
		if !ok {
			continue
		}
		tab, found := tabs[tabID]
		if !found {
			continue
		}
		title := tab.Title
		if title == "" {
			title = "Unknown Tab"
		}
		fmt.Fprintf(&b, "\n\nCONTENT FROM TAB '%s' (ID: %d):\n%s", title, tabID, md)
	}
	return b.String()
}

// highlightBlocks appends one excerpt per used tab with a non-empty
// selection, in ascending tab id order.
func highlightBlocks(in Input, tabs map[int]types.Tab) string {
	if len(in.Highlighted) == 0 || len(in.UsedTabs) == 0 {
		return ""
	}

	used := make(map[int]bool, len(in.UsedTabs))
	for _, id := range in.UsedTabs {
		used[id] = true
	}

	var ids []int
	for id, text := range in.Highlighted {
		if used[id] && text != "" {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, id := range ids {
		title := fmt.Sprintf("Tab %d", id)
		if tab, ok := tabs[id]; ok && tab.Title != "" {
			title = tab.Title
		}
		fmt.Fprintf(&b, "\n\nUSER HIGHLIGHT TEXT FROM TITLE \"%s\" (ID: %d):\n%s\n", title, id, in.Highlighted[id])
	}
	return b.String()
}

// videoReference pulls a video link out of the outgoing text, or falls back
// to the current tab's video URL. A pasted link is removed from the text to
// avoid redundancy; an attached current-tab video gets the timestamp
// instruction appended instead.
func videoReference(text string, currentTabID int, tabs map[int]types.Tab) (string, string) {
	if link := types.FindVideoLink(text); link != "" {
		if uri := types.CanonicalVideoURI(link); uri != "" {
			return strings.TrimSpace(strings.Replace(text, link, "", 1)), uri
		}
	}

	if tab, ok := tabs[currentTabID]; ok && tab.IsVideo() {
		if uri := types.CanonicalVideoURI(tab.URL); uri != "" {
			return text + videoInstruction, uri
		}
	}
	return text, ""
}
