package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/veil/chat-core/internal/apperr"
)

// Store manages conversation rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new conversation for the given pair with the expiry
// clock fixed at creation. The pair is normalized before insert, and a
// second creation for the same pair fails with a conflict rather than
// moving the clock.
func (s *Store) Create(ctx context.Context, user1, user2 string, matchCreatedAt time.Time) (*Conversation, error) {
	if user1 == user2 {
		return nil, apperr.Validation("cannot match a user with themselves")
	}
	a, b := NormalizePair(user1, user2)

	conv := &Conversation{
		ID:             uuid.New().String(),
		ParticipantA:   a,
		ParticipantB:   b,
		MatchCreatedAt: matchCreatedAt,
		MatchExpiresAt: matchCreatedAt.Add(MatchWindow),
	}

	const query = `
		INSERT INTO conversations (id, participant_a, participant_b, match_created_at, match_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		conv.ID, conv.ParticipantA, conv.ParticipantB,
		conv.MatchCreatedAt, conv.MatchExpiresAt,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperr.Conflict("conversation already exists for this pair")
		}
		return nil, fmt.Errorf("conversation: insert: %w", err)
	}
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	const query = `
		SELECT id, participant_a, participant_b, match_created_at, match_expires_at,
		       match_expired, first_message_at, first_message_sender_id, reply_at,
		       created_at, updated_at
		FROM conversations
		WHERE id = $1`

	var (
		conv   Conversation
		sender sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.ParticipantA, &conv.ParticipantB,
		&conv.MatchCreatedAt, &conv.MatchExpiresAt, &conv.MatchExpired,
		&conv.FirstMessageAt, &sender, &conv.ReplyAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	conv.FirstMessageSenderID = sender.String
	return &conv, nil
}

// RecordFirstMessage marks senderID as the first-message sender, but only
// if no first message has been recorded yet. Returns whether this call
// performed the transition. The WHERE clause is the whole concurrency
// story: two racing senders hit the same row and only one update matches.
func (s *Store) RecordFirstMessage(ctx context.Context, convID, senderID string) (bool, error) {
	const query = `
		UPDATE conversations
		SET first_message_at = NOW(), first_message_sender_id = $2, updated_at = NOW()
		WHERE id = $1 AND first_message_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, convID, senderID)
	if err != nil {
		return false, fmt.Errorf("conversation: record first message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation: record first message: %w", err)
	}
	return n == 1, nil
}

// RecordReply marks the reply timestamp, but only if a first message
// exists, senderID is not the first-message sender, and no reply has been
// recorded yet. Returns whether this call performed the transition.
func (s *Store) RecordReply(ctx context.Context, convID, senderID string) (bool, error) {
	const query = `
		UPDATE conversations
		SET reply_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND first_message_at IS NOT NULL
		  AND first_message_sender_id <> $2
		  AND reply_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, convID, senderID)
	if err != nil {
		return false, fmt.Errorf("conversation: record reply: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation: record reply: %w", err)
	}
	return n == 1, nil
}

// Touch bumps updated_at for inbox ordering.
func (s *Store) Touch(ctx context.Context, convID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, convID)
	if err != nil {
		return fmt.Errorf("conversation: touch: %w", err)
	}
	return nil
}

// SweepExpired marks up to batch conversations as expired where the match
// window has elapsed without a reply. It runs as one transaction; the
// predicate is self-excluding once a row flips, so overlapping sweeps
// (scheduled + manual) cannot double-process a conversation. Returns the
// number of rows flipped.
func (s *Store) SweepExpired(ctx context.Context, batch int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		UPDATE conversations
		SET match_expired = TRUE
		WHERE id IN (
			SELECT id FROM conversations
			WHERE NOT match_expired
			  AND match_expires_at < NOW()
			  AND reply_at IS NULL
			ORDER BY match_expires_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)`

	res, err := tx.ExecContext(ctx, query, batch)
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("conversation: sweep commit: %w", err)
	}
	return int(n), nil
}
