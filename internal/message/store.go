package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/veil/chat-core/internal/apperr"
)

// Store manages message rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new message with status=sent and returns it with the
// assigned ID and timestamp.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages (conversation_id, sender_id, msg_type, content, voice_duration_secs, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), 'sent')
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		m.ConversationID, m.SenderID, m.Type, m.Content, m.VoiceDurationSecs,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("message: insert: %w", err)
	}
	m.Status = StatusSent
	return nil
}

// MarkDelivered advances a message from sent to delivered. Returns whether
// the transition happened; a message already delivered or read is left
// alone.
func (s *Store) MarkDelivered(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE messages SET status = 'delivered'
		WHERE id = $1 AND status = 'sent'`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("message: mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message: mark delivered: %w", err)
	}
	return n == 1, nil
}

// ReadReceipt is one message flipped to read, with the sender that must be
// notified.
type ReadReceipt struct {
	MessageID int64
	SenderID  string
}

// MarkRead flips the given messages to read and stamps read_at, skipping
// any message the reader sent themselves and any message already read.
// Returns the receipts for messages actually updated.
func (s *Store) MarkRead(ctx context.Context, convID, readerID string, ids []int64) ([]ReadReceipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `
		UPDATE messages
		SET status = 'read', read_at = NOW()
		WHERE conversation_id = $1
		  AND id = ANY($2)
		  AND sender_id <> $3
		  AND status <> 'read'
		  AND deleted_at IS NULL
		RETURNING id, sender_id`

	rows, err := s.db.QueryContext(ctx, query, convID, pq.Array(ids), readerID)
	if err != nil {
		return nil, fmt.Errorf("message: mark read: %w", err)
	}
	defer rows.Close()

	var receipts []ReadReceipt
	for rows.Next() {
		var r ReadReceipt
		if err := rows.Scan(&r.MessageID, &r.SenderID); err != nil {
			return nil, fmt.Errorf("message: mark read scan: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: mark read rows: %w", err)
	}
	return receipts, nil
}

// ListBefore returns up to limit messages of a conversation with id lower
// than beforeID (0 means newest), newest first, excluding soft-deleted
// messages.
func (s *Store) ListBefore(ctx context.Context, convID string, beforeID int64, limit int) ([]*Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, msg_type, content,
		       COALESCE(voice_duration_secs, 0), status, created_at, read_at
		FROM messages
		WHERE conversation_id = $1
		  AND ($2 = 0 OR id < $2)
		  AND deleted_at IS NULL
		ORDER BY id DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, convID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type,
			&m.Content, &m.VoiceDurationSecs, &m.Status, &m.CreatedAt, &m.ReadAt); err != nil {
			return nil, fmt.Errorf("message: list scan: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: list rows: %w", err)
	}
	return out, nil
}

// Get retrieves a single message by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, msg_type, content,
		       COALESCE(voice_duration_secs, 0), status, created_at, read_at
		FROM messages
		WHERE id = $1 AND deleted_at IS NULL`

	var m Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content,
		&m.VoiceDurationSecs, &m.Status, &m.CreatedAt, &m.ReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("message: get: %w", err)
	}
	return &m, nil
}

// SoftDelete hides a message from listings. Only the sender may delete
// their own message; deleting an already-deleted or foreign message
// reports not found / authorization respectively.
func (s *Store) SoftDelete(ctx context.Context, id int64, userID string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return apperr.Authorization("only the sender can delete a message")
	}

	const query = `
		UPDATE messages SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("message: soft delete: %w", err)
	}
	return nil
}
