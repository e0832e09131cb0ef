package export

import (
	"encoding/json"
	"time"

	"github.com/bearmind/bearmind/internal/types"
)

type jsonExport struct {
	ExportedAt time.Time  `json:"exported_at"`
	Model      string     `json:"model,omitempty"`
	Turns      []jsonTurn `json:"turns"`
}

type jsonTurn struct {
	ID        string                   `json:"id"`
	Sender    string                   `json:"sender"`
	Text      string                   `json:"text"`
	UsedTabs  []int                    `json:"used_tabs,omitempty"`
	Usage     *types.UsageMetadata     `json:"usage,omitempty"`
	Grounding *types.GroundingMetadata `json:"grounding,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}

// JSON formats a transcript as an indented JSON document. Like Markdown, it
// includes terminal turns only.
func JSON(turns []types.Turn, model string) (string, error) {
	out := jsonExport{
		ExportedAt: time.Now(),
		Model:      model,
		Turns:      make([]jsonTurn, 0, len(turns)),
	}
	for _, turn := range turns {
		if !turn.Status.Terminal() {
			continue
		}
		out.Turns = append(out.Turns, jsonTurn{
			ID:        turn.ID,
			Sender:    string(turn.Sender),
			Text:      turn.Text,
			UsedTabs:  turn.UsedTabs,
			Usage:     turn.Usage,
			Grounding: turn.Grounding,
			CreatedAt: turn.CreatedAt,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
