package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sqlx.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sqlx.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            from_addr TEXT NOT NULL,
            subject TEXT NOT NULL DEFAULT '',
            text_body TEXT NOT NULL DEFAULT '',
            html_body TEXT NOT NULL DEFAULT '',
            folder TEXT NOT NULL,
            owner TEXT NOT NULL,
            is_read INTEGER NOT NULL DEFAULT 0,
            is_starred INTEGER NOT NULL DEFAULT 0,
            is_spam INTEGER NOT NULL DEFAULT 0,
            received_at INTEGER NOT NULL,
            UNIQUE(message_id, folder, owner)
        );`,
		`CREATE TABLE IF NOT EXISTS recipients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_row INTEGER NOT NULL,
            email TEXT NOT NULL,
            FOREIGN KEY(message_row) REFERENCES messages(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS drafts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            owner TEXT NOT NULL,
            to_addr TEXT NOT NULL DEFAULT '',
            subject TEXT NOT NULL DEFAULT '',
            body TEXT NOT NULL DEFAULT '',
            updated_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder ON messages(owner, folder);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_email ON recipients(email);`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_row ON recipients(message_row);`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_owner ON drafts(owner);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// InsertMessage stores one mailbox-view copy. A repeat write with the same
// (message_id, folder, owner) is absorbed silently and inserts nothing; the
// returned bool reports whether a new row was created.
func (s *Store) InsertMessage(ctx context.Context, message Message) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO messages
        (message_id, from_addr, subject, text_body, html_body, folder, owner, is_read, is_starred, is_spam, received_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		message.MessageID,
		message.From,
		message.Subject,
		message.TextBody,
		message.HTMLBody,
		message.Folder,
		message.Owner,
		boolToInt(message.IsRead),
		boolToInt(message.IsStarred),
		boolToInt(message.IsSpam),
		message.ReceivedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	for _, email := range message.To {
		if email == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO recipients (message_row, email)
            VALUES (?, ?);`, rowID, email); err != nil {
			return false, fmt.Errorf("insert recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit message: %w", err)
	}
	return true, nil
}

const visibleClause = `(m.owner = ? OR EXISTS (SELECT 1 FROM recipients r WHERE r.message_row = m.id AND r.email = ?))`

// ListFolder returns the identity's view of a folder, newest first. A message
// is visible when the identity owns the copy or appears among its recipients.
func (s *Store) ListFolder(ctx context.Context, identity, folder string, limit, offset int) ([]Message, error) {
	query := `SELECT m.id, m.message_id, m.from_addr, m.subject, m.text_body, m.html_body,
        m.folder, m.owner, m.is_read, m.is_starred, m.is_spam, m.received_at
        FROM messages m
        WHERE m.folder = ? AND ` + visibleClause + `
        ORDER BY m.received_at DESC, m.id DESC LIMIT ? OFFSET ?;`
	return s.queryMessages(ctx, query, folder, identity, identity, clampLimit(limit), maxInt(offset, 0))
}

// ListStarred returns starred messages across folders under the same
// visibility rule.
func (s *Store) ListStarred(ctx context.Context, identity string, limit, offset int) ([]Message, error) {
	query := `SELECT m.id, m.message_id, m.from_addr, m.subject, m.text_body, m.html_body,
        m.folder, m.owner, m.is_read, m.is_starred, m.is_spam, m.received_at
        FROM messages m
        WHERE m.is_starred = 1 AND ` + visibleClause + `
        ORDER BY m.received_at DESC, m.id DESC LIMIT ? OFFSET ?;`
	return s.queryMessages(ctx, query, identity, identity, clampLimit(limit), maxInt(offset, 0))
}

// Search matches a case-insensitive substring against subject and text body.
func (s *Store) Search(ctx context.Context, identity, text string, limit int) ([]Message, error) {
	term := "%" + strings.TrimSpace(text) + "%"
	query := `SELECT m.id, m.message_id, m.from_addr, m.subject, m.text_body, m.html_body,
        m.folder, m.owner, m.is_read, m.is_starred, m.is_spam, m.received_at
        FROM messages m
        WHERE (m.subject LIKE ? OR m.text_body LIKE ?) AND ` + visibleClause + `
        ORDER BY m.received_at DESC, m.id DESC LIMIT ?;`
	return s.queryMessages(ctx, query, term, term, identity, identity, clampLimit(limit))
}

// CountFolders aggregates unread counts per folder, the unread starred total,
// and the draft total for one identity.
func (s *Store) CountFolders(ctx context.Context, identity string) (FolderCounts, error) {
	var counts FolderCounts

	rows, err := s.db.QueryContext(ctx, `SELECT m.folder, COUNT(1) FROM messages m
        WHERE m.is_read = 0 AND `+visibleClause+` GROUP BY m.folder;`, identity, identity)
	if err != nil {
		return counts, fmt.Errorf("count folders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var folder string
		var n int
		if err := rows.Scan(&folder, &n); err != nil {
			return counts, fmt.Errorf("count folders: %w", err)
		}
		switch folder {
		case FolderInbox:
			counts.Inbox = n
		case FolderSpam:
			counts.Spam = n
		case FolderTrash:
			counts.Trash = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("count folders: %w", err)
	}

	if err := s.db.GetContext(ctx, &counts.Important, `SELECT COUNT(1) FROM messages m
        WHERE m.is_read = 0 AND m.is_starred = 1 AND `+visibleClause+`;`, identity, identity); err != nil {
		return counts, fmt.Errorf("count starred: %w", err)
	}

	if err := s.db.GetContext(ctx, &counts.Draft,
		`SELECT COUNT(1) FROM drafts WHERE owner = ?;`, identity); err != nil {
		return counts, fmt.Errorf("count drafts: %w", err)
	}
	return counts, nil
}

// SetRead toggles the read flag on a message the identity can see.
func (s *Store) SetRead(ctx context.Context, identity string, id int64, read bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = ?
        WHERE id = ? AND (owner = ? OR EXISTS (SELECT 1 FROM recipients r WHERE r.message_row = messages.id AND r.email = ?));`,
		boolToInt(read), id, identity, identity)
	if err != nil {
		return false, fmt.Errorf("set read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set read: %w", err)
	}
	return affected > 0, nil
}

// SetStarred toggles the starred flag on a message the identity can see.
func (s *Store) SetStarred(ctx context.Context, identity string, id int64, starred bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_starred = ?
        WHERE id = ? AND (owner = ? OR EXISTS (SELECT 1 FROM recipients r WHERE r.message_row = messages.id AND r.email = ?));`,
		boolToInt(starred), id, identity, identity)
	if err != nil {
		return false, fmt.Errorf("set starred: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set starred: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) SaveDraft(ctx context.Context, draft Draft) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO drafts (owner, to_addr, subject, body, updated_at)
        VALUES (?, ?, ?, ?, ?);`,
		draft.Owner, draft.To, draft.Subject, draft.Body, draft.UpdatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("save draft: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save draft: %w", err)
	}
	return id, nil
}

func (s *Store) ListDrafts(ctx context.Context, owner string, limit int) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner, to_addr, subject, body, updated_at
        FROM drafts WHERE owner = ? ORDER BY updated_at DESC, id DESC LIMIT ?;`,
		owner, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		var draft Draft
		var updatedAt int64
		if err := rows.Scan(&draft.ID, &draft.Owner, &draft.To, &draft.Subject, &draft.Body, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		draft.UpdatedAt = time.Unix(updatedAt, 0)
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return drafts, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	var ids []int64
	for rows.Next() {
		var message Message
		var receivedAt int64
		var isRead, isStarred, isSpam int
		if err := rows.Scan(
			&message.ID,
			&message.MessageID,
			&message.From,
			&message.Subject,
			&message.TextBody,
			&message.HTMLBody,
			&message.Folder,
			&message.Owner,
			&isRead,
			&isStarred,
			&isSpam,
			&receivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.IsRead = isRead != 0
		message.IsStarred = isStarred != 0
		message.IsSpam = isSpam != 0
		message.ReceivedAt = time.Unix(receivedAt, 0)
		messages = append(messages, message)
		ids = append(ids, message.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(ids) == 0 {
		return messages, nil
	}

	recipients, err := s.listRecipients(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].To = recipients[messages[i].ID]
	}
	return messages, nil
}

func (s *Store) listRecipients(ctx context.Context, messageRows []int64) (map[int64][]string, error) {
	query, args, err := sqlx.In(`SELECT message_row, email FROM recipients
        WHERE message_row IN (?) ORDER BY id;`, messageRows)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]string)
	for rows.Next() {
		var messageRow int64
		var email string
		if err := rows.Scan(&messageRow, &email); err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		result[messageRow] = append(result[messageRow], email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return result, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
