package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bearmind/bearmind/internal/types"
)

type turnMetadata struct {
	Usage     *types.UsageMetadata     `json:"usage,omitempty"`
	Grounding *types.GroundingMetadata `json:"grounding,omitempty"`
}

// ReplaceTurns persists the whole transcript, replacing the stored one.
// The conversation is small (a chat session), so whole-transcript writes
// keep ordering trivially correct across deletes and regenerates.
func ReplaceTurns(db *sql.DB, turns []types.Turn) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM turns"); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}

	for i, turn := range turns {
		usedTabs, err := json.Marshal(turn.UsedTabs)
		if err != nil {
			return err
		}
		highlighted, err := json.Marshal(turn.Highlighted)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(turnMetadata{Usage: turn.Usage, Grounding: turn.Grounding})
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO turns (id, position, sender, text, status, used_tabs, highlighted, current_tab, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.ID, i, string(turn.Sender), turn.Text, string(turn.Status),
			string(usedTabs), string(highlighted), turn.CurrentTabID, string(metadata), turn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert turn %s: %w", turn.ID, err)
		}
	}
	return tx.Commit()
}

// LoadTurns reads the stored transcript in order.
func LoadTurns(db *sql.DB) ([]types.Turn, error) {
	rows, err := db.Query(`
		SELECT id, sender, text, status, used_tabs, highlighted, current_tab, metadata, created_at
		FROM turns ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		var turn types.Turn
		var sender, status, usedTabs, highlighted, meta string
		var createdAt time.Time
		if err := rows.Scan(&turn.ID, &sender, &turn.Text, &status,
			&usedTabs, &highlighted, &turn.CurrentTabID, &meta, &createdAt); err != nil {
			return nil, err
		}
		turn.Sender = types.Sender(sender)
		turn.Status = types.Status(status)
		turn.CreatedAt = createdAt
		if err := json.Unmarshal([]byte(usedTabs), &turn.UsedTabs); err != nil {
			return nil, fmt.Errorf("turn %s used_tabs: %w", turn.ID, err)
		}
		if err := json.Unmarshal([]byte(highlighted), &turn.Highlighted); err != nil {
			return nil, fmt.Errorf("turn %s highlighted: %w", turn.ID, err)
		}
		var md turnMetadata
		if err := json.Unmarshal([]byte(meta), &md); err != nil {
			return nil, fmt.Errorf("turn %s metadata: %w", turn.ID, err)
		}
		turn.Usage = md.Usage
		turn.Grounding = md.Grounding
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
