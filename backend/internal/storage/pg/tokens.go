package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storefront-dev/storefront/shared/domain"
)

// RecordLogin registers an issued access token and resets the login IP's
// attempt log in one transaction. The token must not be handed out unless
// this succeeds.
func (s *Storage) RecordLogin(ctx context.Context, token domain.IssuedToken, ip domain.IP, userAgent string, maxAttempts int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertToken(ctx, tx, token); err != nil {
			return err
		}
		return s.bindIPLog(ctx, tx, ip, token.UserId, maxAttempts, &userAgent)
	})
}

// Authenticate is the revocation gate. It returns the owner of jti only if the
// registry row exists, belongs to userId, is not revoked and has not expired.
// The user is read fresh so role changes apply on the next request.
func (s *Storage) Authenticate(ctx context.Context, jti domain.TokenId, userId domain.UserId) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.role, u.email_confirmed, u.created_at
		FROM user_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.jti = $1 AND t.user_id = $2 AND NOT t.revoked AND t.expires_at > now()`,
		jti, userId,
	))
}

// RevokeToken marks one token revoked. Revoking twice is not an error.
func (s *Storage) RevokeToken(ctx context.Context, jti domain.TokenId) error {
	result, err := s.db.ExecContext(ctx, "UPDATE user_tokens SET revoked = TRUE WHERE jti = $1", jti)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return expectOneRow(result, "Session not found")
}

// RevokeUserTokens revokes every active token of the user.
func (s *Storage) RevokeUserTokens(ctx context.Context, userId domain.UserId) (int64, error) {
	return s.revokeUserTokens(ctx, s.db, userId)
}

func (s *Storage) ListUserTokens(ctx context.Context, userId domain.UserId) ([]domain.IssuedToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jti, user_id, issued_at, expires_at, revoked
		FROM user_tokens
		WHERE user_id = $1
		ORDER BY issued_at DESC`,
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	tokens := []domain.IssuedToken{}
	for rows.Next() {
		var t domain.IssuedToken
		if err := rows.Scan(&t.Jti, &t.UserId, &t.IssuedAt, &t.ExpiresAt, &t.Revoked); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		t.IssuedAt, t.ExpiresAt = t.IssuedAt.UTC(), t.ExpiresAt.UTC()
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return tokens, nil
}

// DeleteStaleTokens removes revoked or expired registry rows.
func (s *Storage) DeleteStaleTokens(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM user_tokens WHERE revoked OR expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}
	return result.RowsAffected()
}

func (s *Storage) insertToken(ctx context.Context, q Querier, token domain.IssuedToken) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_tokens(jti, user_id, issued_at, expires_at, revoked)
		VALUES($1, $2, $3, $4, FALSE)`,
		token.Jti, token.UserId, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (s *Storage) revokeUserTokens(ctx context.Context, q Querier, userId domain.UserId) (int64, error) {
	result, err := q.ExecContext(ctx,
		"UPDATE user_tokens SET revoked = TRUE WHERE user_id = $1 AND NOT revoked", userId)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}
