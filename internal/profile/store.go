package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/veil/chat-core/internal/apperr"
)

// Store reads profile and questionnaire rows. Both tables are owned by the
// profile subsystem; this core treats them as read-only inputs.
type Store struct {
	db *sql.DB
}

// NewStore creates a profile reader backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads a user's full, unfiltered profile. Callers must pass the
// result through Filter before returning it to a viewer.
func (s *Store) Get(ctx context.Context, userID string) (Profile, error) {
	const query = `
		SELECT user_id, display_name, age, avatar_url, occupation, education,
		       city, height_cm, real_name, instagram_handle, photo_urls, bio
		FROM profiles
		WHERE user_id = $1`

	var (
		p       Profile
		bioJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.DisplayName, &p.Age, &p.AvatarURL, &p.Occupation,
		&p.Education, &p.City, &p.HeightCm, &p.RealName, &p.InstagramHandle,
		pq.Array(&p.PhotoURLs), &bioJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, apperr.NotFound("profile not found")
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: get: %w", err)
	}

	if len(bioJSON) > 0 {
		if err := json.Unmarshal(bioJSON, &p.Bio); err != nil {
			return Profile{}, fmt.Errorf("profile: decode bio: %w", err)
		}
	}
	return p, nil
}

// Flags reads a user's questionnaire-completion flags. A user with no row
// has completed nothing.
func (s *Store) Flags(ctx context.Context, userID string) (Flags, error) {
	const query = `
		SELECT level2_completed, level3_completed
		FROM questionnaire_flags
		WHERE user_id = $1`

	var f Flags
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&f.Level2Completed, &f.Level3Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return Flags{}, nil
	}
	if err != nil {
		return Flags{}, fmt.Errorf("profile: flags: %w", err)
	}
	return f, nil
}
