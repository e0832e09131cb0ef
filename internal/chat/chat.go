// Package chat owns the conversation: an ordered transcript of paired
// user/assistant turns, the submit pipeline that reads tabs and streams the
// reply, and the delete/regenerate/reset operations over it.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/assemble"
	"github.com/bearmind/bearmind/internal/cache"
	"github.com/bearmind/bearmind/internal/gemini"
	"github.com/bearmind/bearmind/internal/storage"
	"github.com/bearmind/bearmind/internal/types"
)

// ErrBusy is returned when a submission arrives while the previous
// assistant turn is still streaming or reading.
var ErrBusy = errors.New("a response is still in progress")

// ErrTurnNotFound is returned by Delete and Regenerate for unknown ids.
var ErrTurnNotFound = errors.New("turn not found")

// TabSource supplies the tab snapshot and highlight state for a submission.
// Satisfied by *tabs.Provider.
type TabSource interface {
	FetchTabs(ctx context.Context) types.TabsResult
	Highlights() map[int]string
}

// Generator produces one streamed assistant reply. Satisfied by *gemini.Client.
type Generator interface {
	GenerateResponse(ctx context.Context, model string, a assemble.Assembled, useSearch bool, onPartial func(text string), notify gemini.Notify) *gemini.Result
}

// Conversation is the single mutable transcript. All reads and writes go
// through its mutex; the submit pipeline mutates turns only through
// generation-guarded helpers so a delete or reset mid-stream orphans the
// in-flight callbacks instead of racing them.
type Conversation struct {
	mu         sync.Mutex
	turns      []types.Turn
	generation int64
	seq        int64
	cancel     context.CancelFunc
	lastSearch bool

	db       *sql.DB // nil = memory only
	tabs     TabSource
	cache    *cache.Cache
	ex       cache.Extractor
	gen      Generator
	model    string
	onChange func()
	notify   gemini.Notify
}

// Config wires a Conversation's collaborators.
type Config struct {
	DB        *sql.DB
	Tabs      TabSource
	Cache     *cache.Cache
	Extractor cache.Extractor
	Generator Generator
	Model     string
	OnChange  func() // fired after every transcript mutation
	Notify    gemini.Notify
}

func New(cfg Config) *Conversation {
	c := &Conversation{
		db:       cfg.DB,
		tabs:     cfg.Tabs,
		cache:    cfg.Cache,
		ex:       cfg.Extractor,
		gen:      cfg.Generator,
		model:    cfg.Model,
		onChange: cfg.OnChange,
		notify:   cfg.Notify,
	}
	if c.db != nil {
		if stored, err := storage.GetSetting(c.db, "use_search"); err == nil {
			c.lastSearch = stored == "1"
		}
		turns, err := storage.LoadTurns(c.db)
		if err != nil {
			applog.Error("chat.load", err)
		} else {
			// A turn stuck mid-stream from a previous run can never finish.
			for i := range turns {
				if !turns[i].Status.Terminal() {
					turns[i].Status = types.StatusDone
				}
			}
			c.turns = turns
		}
	}
	return c
}

// Turns returns a copy of the transcript.
func (c *Conversation) Turns() []types.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Busy reports whether a reply is still in progress.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Conversation) busyLocked() bool {
	if len(c.turns) == 0 {
		return false
	}
	return !c.turns[len(c.turns)-1].Status.Terminal()
}

// Model returns the configured model id.
func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// UseSearch returns the last submitted (or persisted) search preference.
func (c *Conversation) UseSearch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSearch
}

// SetModel switches the model for subsequent submissions.
func (c *Conversation) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	db := c.db
	c.mu.Unlock()
	if db != nil {
		if err := storage.SetSetting(db, "model", model); err != nil {
			applog.Error("chat.set_model", err)
		}
	}
}

// Submit runs one full exchange: it appends the user turn and a streaming
// assistant turn, converts the selected tabs, streams the reply into the
// assistant turn and finalizes it. Blocks until the reply is terminal; run
// it off the UI goroutine. Returns ErrBusy if a reply is already in flight.
func (c *Conversation) Submit(ctx context.Context, text string, usedTabs []int, useSearch bool) error {
	snapshot := c.tabs.FetchTabs(ctx)
	highlights := c.tabs.Highlights()

	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	ctx, c.cancel = context.WithCancel(ctx)
	generation := c.generation
	persistSearch := c.lastSearch != useSearch
	c.lastSearch = useSearch
	c.seq++
	userTurn := types.Turn{
		ID:           types.NewTurnID(c.seq),
		Sender:       types.SenderUser,
		Text:         text,
		Status:       types.StatusDone,
		UsedTabs:     usedTabs,
		Highlighted:  highlights,
		CurrentTabID: snapshot.CurrentTabID,
		CreatedAt:    now(),
	}
	c.seq++
	replyID := types.NewTurnID(c.seq)
	c.turns = append(c.turns, userTurn, types.Turn{
		ID:        replyID,
		Sender:    types.SenderAssistant,
		Status:    types.StatusStreaming,
		CreatedAt: now(),
	})
	prior := make([]types.Turn, len(c.turns)-2)
	copy(prior, c.turns[:len(c.turns)-2])
	c.mu.Unlock()
	c.changed()

	if persistSearch && c.db != nil {
		value := "0"
		if useSearch {
			value = "1"
		}
		if err := storage.SetSetting(c.db, "use_search", value); err != nil {
			applog.Error("chat.set_search", err)
		}
	}

	c.runPipeline(ctx, generation, replyID, assemble.Input{
		Text:         text,
		UsedTabs:     usedTabs,
		Highlighted:  highlights,
		CurrentTabID: snapshot.CurrentTabID,
	}, prior, snapshot.Tabs, useSearch)
	return nil
}

// runPipeline drives one assistant turn from streaming to done. All turn
// mutations are generation-guarded: if the transcript was deleted from or
// reset underneath it, the updates land nowhere.
func (c *Conversation) runPipeline(ctx context.Context, generation int64, replyID string, in assemble.Input, prior []types.Turn, tabSet map[int]types.Tab, useSearch bool) {
	reading := false
	c.cache.ReadTabs(ctx, in.UsedTabs, tabSet, c.ex, func(tabID int) {
		if !reading {
			reading = true
			c.setStatus(generation, replyID, types.StatusReading)
		}
	})
	if reading {
		c.setStatus(generation, replyID, types.StatusStreaming)
	}

	payload := assemble.Build(in, prior, c.cache.Contents(), tabSet)

	c.mu.Lock()
	model := c.model
	c.mu.Unlock()

	result := c.gen.GenerateResponse(ctx, model, payload, useSearch, func(text string) {
		c.setText(generation, replyID, text)
	}, c.notify)

	c.finalize(generation, replyID, result)
}

func (c *Conversation) setStatus(generation int64, id string, status types.Status) {
	c.mu.Lock()
	if generation == c.generation {
		if i := c.indexLocked(id); i >= 0 {
			if next, err := c.turns[i].Status.Transition(status); err == nil {
				c.turns[i].Status = next
			}
		}
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Conversation) setText(generation int64, id string, text string) {
	c.mu.Lock()
	if generation == c.generation {
		if i := c.indexLocked(id); i >= 0 && !c.turns[i].Status.Terminal() {
			c.turns[i].Text = text
		}
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Conversation) finalize(generation int64, id string, result *gemini.Result) {
	c.mu.Lock()
	if generation == c.generation {
		if i := c.indexLocked(id); i >= 0 {
			c.turns[i].Text = result.Text
			c.turns[i].Usage = result.Usage
			c.turns[i].Grounding = result.Grounding
			c.turns[i].Status = types.StatusDone
		}
		c.cancel = nil
	}
	c.mu.Unlock()
	c.persist()
	c.changed()
}

// Delete removes the turn with the given id. A user turn takes its
// assistant reply with it; any other target removes exactly that one turn.
// Deleting an in-flight reply cancels its stream.
func (c *Conversation) Delete(id string) error {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return ErrTurnNotFound
	}
	end := i + 1
	if c.turns[i].Sender == types.SenderUser && end < len(c.turns) && c.turns[end].Sender == types.SenderAssistant {
		end++
	}
	// Cancel only when the in-flight reply itself is being removed. Updates
	// look turns up by id, so removing an earlier pair is safe mid-stream.
	var cancel context.CancelFunc
	for j := i; j < end; j++ {
		if !c.turns[j].Status.Terminal() {
			c.generation++
			cancel = c.cancel
			c.cancel = nil
		}
	}
	c.turns = append(c.turns[:i], c.turns[end:]...)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.persist()
	c.changed()
	return nil
}

// Regenerate discards the reply to a user turn (and everything after it)
// and resubmits that turn's recorded inputs against a fresh tab snapshot.
// Blocks like Submit.
func (c *Conversation) Regenerate(ctx context.Context, id string) error {
	snapshot := c.tabs.FetchTabs(ctx)

	c.mu.Lock()
	i := c.indexLocked(id)
	for i >= 0 && c.turns[i].Sender != types.SenderUser {
		i--
	}
	if i < 0 {
		c.mu.Unlock()
		return ErrTurnNotFound
	}
	userTurn := c.turns[i]
	c.turns = c.turns[:i+1]
	c.generation++
	generation := c.generation
	if c.cancel != nil {
		c.cancel()
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.seq++
	replyID := types.NewTurnID(c.seq)
	c.turns = append(c.turns, types.Turn{
		ID:        replyID,
		Sender:    types.SenderAssistant,
		Status:    types.StatusStreaming,
		CreatedAt: now(),
	})
	prior := make([]types.Turn, i)
	copy(prior, c.turns[:i])
	search := c.lastSearch
	c.mu.Unlock()
	c.changed()

	c.runPipeline(ctx, generation, replyID, assemble.Input{
		Text:         userTurn.Text,
		UsedTabs:     userTurn.UsedTabs,
		Highlighted:  userTurn.Highlighted,
		CurrentTabID: userTurn.CurrentTabID,
	}, prior, snapshot.Tabs, search)
	return nil
}

// Reset clears the transcript and the conversion cache.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.turns = nil
	c.generation++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.cache.Reset()
	c.persist()
	c.changed()
}

func (c *Conversation) indexLocked(id string) int {
	for i := range c.turns {
		if c.turns[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) persist() {
	c.mu.Lock()
	db := c.db
	turns := make([]types.Turn, len(c.turns))
	copy(turns, c.turns)
	c.mu.Unlock()
	if db == nil {
		return
	}
	if err := storage.ReplaceTurns(db, turns); err != nil {
		applog.Error("chat.persist", err)
	}
}

func (c *Conversation) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func now() time.Time {
	return time.Now().UTC()
}
