// Package export renders a conversation transcript as markdown or JSON.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/bearmind/bearmind/internal/types"
)

// Markdown formats a transcript as a markdown document. Non-terminal turns
// are skipped; a half-streamed reply has no business in an export.
func Markdown(turns []types.Turn, model string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# BearMind Conversation\n")
	fmt.Fprintf(&b, "> Exported %s", time.Now().Format("2006-01-02 15:04"))
	if model != "" {
		fmt.Fprintf(&b, " — %s", model)
	}
	b.WriteString("\n")

	for _, turn := range turns {
		if !turn.Status.Terminal() {
			continue
		}
		fmt.Fprintf(&b, "\n## %s — %s\n\n", senderLabel(turn.Sender), turn.CreatedAt.Format("2006-01-02 15:04"))
		b.WriteString(turn.Text)
		b.WriteString("\n")

		if len(turn.UsedTabs) > 0 {
			refs := make([]string, len(turn.UsedTabs))
			for i, id := range turn.UsedTabs {
				refs[i] = fmt.Sprintf("TAB-%d", id)
			}
			fmt.Fprintf(&b, "\n_Tabs: %s_\n", strings.Join(refs, ", "))
		}
		if turn.Usage != nil {
			fmt.Fprintf(&b, "\n_Tokens: %d total (%d prompt, %d response)_\n",
				turn.Usage.TotalTokens, turn.Usage.PromptTokens, turn.Usage.ResponseTokens)
		}
		if turn.Grounding != nil && len(turn.Grounding.Chunks) > 0 {
			b.WriteString("\nSources:\n")
			for _, chunk := range turn.Grounding.Chunks {
				if chunk.Web == nil {
					continue
				}
				fmt.Fprintf(&b, "- [%s](%s)\n", chunk.Web.Title, chunk.Web.URI)
			}
		}
	}

	return b.String()
}

func senderLabel(s types.Sender) string {
	if s == types.SenderAssistant {
		return "BearMind"
	}
	return "You"
}
