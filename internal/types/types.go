package types

import (
	"fmt"
	"time"
)

// Tab represents a single browser tab as reported by the extension bridge.
// Snapshots are immutable; a refresh replaces the whole set.
type Tab struct {
	ID      int
	Title   string
	Favicon string // favicon URL; empty if none
	URL     string
}

// IsVideo reports whether the tab points at a known streaming-video host.
// Video tabs are never scraped as text — they go through the media path.
func (t Tab) IsVideo() bool {
	return IsVideoURL(t.URL)
}

// TabsResult is one snapshot of the open tabs in the current window.
type TabsResult struct {
	CurrentTabID int // 0 if no active tab could be determined
	Tabs         map[int]Tab
}

// Current returns the active tab and whether one exists.
func (r TabsResult) Current() (Tab, bool) {
	t, ok := r.Tabs[r.CurrentTabID]
	return t, ok
}

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Status is the lifecycle state of an assistant turn.
type Status string

const (
	// StatusStreaming means the provider call is pending or tokens are arriving.
	StatusStreaming Status = "streaming"
	// StatusReading means tab content is being extracted before the provider call.
	StatusReading Status = "reading"
	// StatusDone is terminal. A done turn is never mutated again.
	StatusDone Status = "done"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s == StatusDone }

// CanTransition reports whether moving from s to next is a legal lifecycle
// step: streaming→reading, reading→streaming, streaming→done, reading→done.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusStreaming:
		return next == StatusReading || next == StatusDone
	case StatusReading:
		return next == StatusStreaming || next == StatusDone
	}
	return false
}

// Transition validates and returns the next status.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("invalid status transition %s -> %s", s, next)
	}
	return next, nil
}

// UsageMetadata carries per-response token accounting from the provider.
type UsageMetadata struct {
	TotalTokens         int `json:"totalTokenCount,omitempty"`
	PromptTokens        int `json:"promptTokenCount,omitempty"`
	ResponseTokens      int `json:"candidatesTokenCount,omitempty"`
	CachedTokens        int `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokens      int `json:"thoughtsTokenCount,omitempty"`
	ToolUsePromptTokens int `json:"toolUsePromptTokenCount,omitempty"`
}

// WebSource is one cited source from search grounding.
type WebSource struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri,omitempty"`
}

// GroundingChunk wraps a cited source chunk.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// GroundingSupport ties a span of response text to cited chunks with
// per-chunk confidence scores.
type GroundingSupport struct {
	ChunkIndices     []int     `json:"groundingChunkIndices,omitempty"`
	ConfidenceScores []float64 `json:"confidenceScores,omitempty"`
	Text             string    `json:"text,omitempty"`
}

// GroundingMetadata carries search-grounding citations from the provider.
type GroundingMetadata struct {
	WebSearchQueries []string           `json:"webSearchQueries,omitempty"`
	Chunks           []GroundingChunk   `json:"groundingChunks,omitempty"`
	Supports         []GroundingSupport `json:"groundingSupports,omitempty"`
}

// Turn is one message in a conversation.
type Turn struct {
	ID     string
	Sender Sender
	Text   string
	Status Status

	// Submission inputs, recorded on user turns so regenerate can replay them.
	UsedTabs     []int
	Highlighted  map[int]string
	CurrentTabID int

	// Assistant-side metadata, attached without altering Text.
	Usage     *UsageMetadata
	Grounding *GroundingMetadata

	CreatedAt time.Time
}

// NewTurnID builds a unique turn identifier from the current time and a
// caller-supplied disambiguator.
func NewTurnID(n int64) string {
	return fmt.Sprintf("%d-%02x", time.Now().UnixMilli(), n&0xff)
}

// FallbackTabs is the fixed tab set used when no browser is connected.
// It keeps the whole pipeline exercisable without a live extension.
func FallbackTabs() TabsResult {
	tabs := []Tab{
		{ID: 1, Title: "GitHub - Build software better, together", Favicon: "github.com", URL: "https://github.com"},
		{ID: 2, Title: "Stack Overflow - Where Developers Learn & Share", Favicon: "stackoverflow.com", URL: "https://stackoverflow.com"},
		{ID: 3, Title: "React - A JavaScript library for building user interfaces", Favicon: "reactjs.org", URL: "https://reactjs.org"},
		{ID: 4, Title: "Next.js by Vercel - The React Framework", Favicon: "nextjs.org", URL: "https://nextjs.org"},
		{ID: 5, Title: "Tailwind CSS - Rapidly build modern websites", Favicon: "tailwindcss.com", URL: "https://tailwindcss.com"},
	}
	m := make(map[int]Tab, len(tabs))
	for _, t := range tabs {
		m[t.ID] = t
	}
	return TabsResult{CurrentTabID: 1, Tabs: m}
}
