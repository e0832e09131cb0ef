package gemini

import (
	"context"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/assemble"
)

const (
	missingKeyReply  = "No API key provided. Please add your Gemini API key in settings."
	errorReplyPrefix = "I encountered an error while processing your request. Error: "
)

// Notify surfaces a transient toast to the user.
type Notify func(title, message string)

// GenerateResponse never fails: provider and credential errors come back as
// the assistant's reply text so the conversation keeps a consistent shape,
// with a toast raised alongside. Cancellation also resolves, without a
// toast; a superseded generation is discarded by the caller's generation
// guard rather than surfaced.
func (c *Client) GenerateResponse(ctx context.Context, model string, a assemble.Assembled, useSearch bool, onPartial func(text string), notify Notify) *Result {
	if !c.HasKey() {
		if notify != nil {
			notify("API Key Required", missingKeyReply)
		}
		return &Result{Text: missingKeyReply}
	}

	result, err := c.StreamGenerate(ctx, model, a, useSearch, onPartial)
	if err != nil {
		if ctx.Err() != nil {
			return &Result{Text: errorReplyPrefix + ctx.Err().Error()}
		}
		applog.Error("gemini.generate", err, "model", model)
		if notify != nil {
			notify("AI Generation Error", err.Error())
		}
		return &Result{Text: errorReplyPrefix + err.Error()}
	}
	return result
}
