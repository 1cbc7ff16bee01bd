package disclosure

import (
	"context"
	"database/sql"
	"fmt"
)

// Store manages disclosure state in PostgreSQL. Counter increments and the
// current-level cache update run inside one transaction so readers never
// observe a half-applied message.
type Store struct {
	db *sql.DB
}

// NewStore creates a disclosure store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureState creates the disclosure row for a conversation if missing.
// Called at conversation creation; safe to call again.
func (s *Store) EnsureState(ctx context.Context, convID string) error {
	const query = `
		INSERT INTO disclosure_states (conversation_id)
		VALUES ($1)
		ON CONFLICT (conversation_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, convID); err != nil {
		return fmt.Errorf("disclosure: ensure state: %w", err)
	}
	return nil
}

// RecordMessage increments the conversation total and the sender's
// counter, then refreshes the cached current_level. participantA and
// participantB are the conversation's normalized pair; the caller has
// already verified the sender is one of them. Returns the level before
// and after, so callers can observe unlocks.
func (s *Store) RecordMessage(ctx context.Context, convID, senderID, participantA, participantB string) (before, after Level, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("disclosure: record begin: %w", err)
	}
	defer tx.Rollback()

	const incTotal = `
		INSERT INTO disclosure_states (conversation_id, total_message_count)
		VALUES ($1, 1)
		ON CONFLICT (conversation_id)
		DO UPDATE SET total_message_count = disclosure_states.total_message_count + 1
		RETURNING current_level`
	if err := tx.QueryRowContext(ctx, incTotal, convID).Scan(&before); err != nil {
		return 0, 0, fmt.Errorf("disclosure: increment total: %w", err)
	}

	const incSender = `
		INSERT INTO disclosure_counters (conversation_id, user_id, message_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET message_count = disclosure_counters.message_count + 1`
	if _, err := tx.ExecContext(ctx, incSender, convID, senderID); err != nil {
		return 0, 0, fmt.Errorf("disclosure: increment sender: %w", err)
	}

	state, err := loadState(ctx, tx, convID)
	if err != nil {
		return 0, 0, err
	}
	after = ComputeLevel(state, participantA, participantB)

	// current_level is a monotonic cache; never lower it.
	const setLevel = `
		UPDATE disclosure_states
		SET current_level = GREATEST(current_level, $2)
		WHERE conversation_id = $1`
	if _, err := tx.ExecContext(ctx, setLevel, convID, int(after)); err != nil {
		return 0, 0, fmt.Errorf("disclosure: set level: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("disclosure: record commit: %w", err)
	}
	if after < before {
		after = before
	}
	return before, after, nil
}

// SetConsent upserts a user's consent record for a level and refreshes the
// cached current_level in the same transaction.
func (s *Store) SetConsent(ctx context.Context, convID, userID string, level Level, state ConsentState, participantA, participantB string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("disclosure: consent begin: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO disclosure_consents (conversation_id, user_id, level, state, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (conversation_id, user_id, level)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, upsert, convID, userID, int(level), string(state)); err != nil {
		return fmt.Errorf("disclosure: upsert consent: %w", err)
	}

	st, err := loadState(ctx, tx, convID)
	if err != nil {
		return err
	}
	level = ComputeLevel(st, participantA, participantB)

	const setLevel = `
		UPDATE disclosure_states
		SET current_level = GREATEST(current_level, $2)
		WHERE conversation_id = $1`
	if _, err := tx.ExecContext(ctx, setLevel, convID, int(level)); err != nil {
		return fmt.Errorf("disclosure: set level: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("disclosure: consent commit: %w", err)
	}
	return nil
}

// LoadState reads the full disclosure state of a conversation. A
// conversation with no row yet reads as the zero state (level 1, empty
// counters).
func (s *Store) LoadState(ctx context.Context, convID string) (*State, error) {
	return loadState(ctx, s.db, convID)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadState(ctx context.Context, q querier, convID string) (*State, error) {
	state := &State{
		ConversationID: convID,
		CurrentLevel:   Level1,
		MessageCounts:  make(map[string]int),
		Consents:       make(map[ConsentKey]ConsentState),
	}

	const head = `
		SELECT total_message_count, current_level
		FROM disclosure_states
		WHERE conversation_id = $1`
	err := q.QueryRowContext(ctx, head, convID).
		Scan(&state.TotalMessageCount, &state.CurrentLevel)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("disclosure: load state: %w", err)
	}

	const counters = `
		SELECT user_id, message_count
		FROM disclosure_counters
		WHERE conversation_id = $1`
	rows, err := q.QueryContext(ctx, counters, convID)
	if err != nil {
		return nil, fmt.Errorf("disclosure: load counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			user  string
			count int
		)
		if err := rows.Scan(&user, &count); err != nil {
			return nil, fmt.Errorf("disclosure: scan counter: %w", err)
		}
		state.MessageCounts[user] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disclosure: counters rows: %w", err)
	}

	const consents = `
		SELECT user_id, level, state
		FROM disclosure_consents
		WHERE conversation_id = $1`
	crows, err := q.QueryContext(ctx, consents, convID)
	if err != nil {
		return nil, fmt.Errorf("disclosure: load consents: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			user  string
			level int
			cs    string
		)
		if err := crows.Scan(&user, &level, &cs); err != nil {
			return nil, fmt.Errorf("disclosure: scan consent: %w", err)
		}
		state.Consents[ConsentKey{UserID: user, Level: Level(level)}] = ConsentState(cs)
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("disclosure: consents rows: %w", err)
	}

	return state, nil
}
