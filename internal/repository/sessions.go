package repository

import (
	"context"
	"time"

	"campusconnect/internal/model"
)

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2`, revokedAt, sessionID)
	return err
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_token_sessions
		SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`, revokedAt, userID)
	return err
}

func (s *Store) PurgeRefreshSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM refresh_token_sessions
		WHERE expires_at < $1 OR revoked_at IS NOT NULL
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
