package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChatIndex is the persistent chat → config-URL override mapping. A row
// exists only for chats repointed away from the default config; everything
// else resolves through the gateway's configured default.
type ChatIndex struct {
	db *sql.DB
}

func NewChatIndex(db *sql.DB) *ChatIndex {
	return &ChatIndex{db: db}
}

// Lookup returns the override config URL for a chat, or "" when the chat
// uses the default.
func (x *ChatIndex) Lookup(ctx context.Context, chatID string) (string, error) {
	var url string
	err := x.db.QueryRowContext(ctx,
		`SELECT config_url FROM chat_registry WHERE chat_id = ?`, chatID,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup chat config url: %w", err)
	}
	return url, nil
}

// Upsert points a chat at a config URL.
func (x *ChatIndex) Upsert(ctx context.Context, chatID, configURL string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO chat_registry (chat_id, config_url, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET config_url = excluded.config_url,
		                                     updated_at = excluded.updated_at`,
		chatID, configURL, now)
	if err != nil {
		return fmt.Errorf("upsert chat config url: %w", err)
	}
	return nil
}

// Remove drops a chat's override, reverting it to the default config.
func (x *ChatIndex) Remove(ctx context.Context, chatID string) error {
	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM chat_registry WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("remove chat config url: %w", err)
	}
	return nil
}

// List returns every chat with an override row. Used by the scheduler to
// union override chats with any chats known only through live traffic.
func (x *ChatIndex) List(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT chat_id FROM chat_registry ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}
