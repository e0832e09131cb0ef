package storage

import (
	"database/sql"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compressMarkdown lz4-block-compresses a markdown blob. Incompressible
// input is stored raw with size 0 as the marker.
func compressMarkdown(markdown string) (blob []byte, size int, err error) {
	src := []byte(markdown)
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return src, 0, nil
	}
	return dst[:n], len(src), nil
}

// decompressMarkdown reverses compressMarkdown.
func decompressMarkdown(blob []byte, size int) (string, error) {
	if size == 0 {
		return string(blob), nil
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(blob, dst)
	if err != nil {
		return "", fmt.Errorf("lz4 decompress: %w", err)
	}
	return string(dst[:n]), nil
}

// PutConversion stores (or replaces) the extracted markdown for a tab.
func PutConversion(db *sql.DB, tabID int, url, markdown string) error {
	blob, size, err := compressMarkdown(markdown)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO conversions (tab_id, url, compressed, uncompressed_size, extracted_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tab_id) DO UPDATE SET
			url = excluded.url,
			compressed = excluded.compressed,
			uncompressed_size = excluded.uncompressed_size,
			extracted_at = CURRENT_TIMESTAMP`,
		tabID, url, blob, size,
	)
	if err != nil {
		return fmt.Errorf("put conversion for tab %d: %w", tabID, err)
	}
	return nil
}

// GetConversion loads the cached markdown for a tab. Returns ("", false, nil)
// when no conversion exists.
func GetConversion(db *sql.DB, tabID int) (string, bool, error) {
	var blob []byte
	var size int
	err := db.QueryRow(
		"SELECT compressed, uncompressed_size FROM conversions WHERE tab_id = ?", tabID,
	).Scan(&blob, &size)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get conversion for tab %d: %w", tabID, err)
	}
	markdown, err := decompressMarkdown(blob, size)
	if err != nil {
		return "", false, err
	}
	return markdown, true, nil
}

// ListConvertedIDs returns the tab ids that have a stored conversion.
func ListConvertedIDs(db *sql.DB) ([]int, error) {
	rows, err := db.Query("SELECT tab_id FROM conversions ORDER BY tab_id")
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteConversion drops one tab's cached markdown.
func DeleteConversion(db *sql.DB, tabID int) error {
	_, err := db.Exec("DELETE FROM conversions WHERE tab_id = ?", tabID)
	if err != nil {
		return fmt.Errorf("delete conversion for tab %d: %w", tabID, err)
	}
	return nil
}

// ClearConversions drops all cached markdown.
func ClearConversions(db *sql.DB) error {
	_, err := db.Exec("DELETE FROM conversions")
	if err != nil {
		return fmt.Errorf("clear conversions: %w", err)
	}
	return nil
}
