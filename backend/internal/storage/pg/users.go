package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
)

const userColumns = "id, username, email, password_hash, role, email_confirmed, created_at"

// =========================================================================
// Public Methods (satisfy the service.AuthStorage interface)
// =========================================================================

// CreateUser inserts an unconfirmed user and binds the registering IP's
// attempt log to it with a full budget. Both happen in one transaction.
// A taken username or email yields a Conflict error.
func (s *Storage) CreateUser(ctx context.Context, user domain.User, ip domain.IP, maxAttempts int) (domain.UserId, error) {
	var id domain.UserId
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertUser(ctx, tx, user)
		if err != nil {
			return err
		}
		return s.bindIPLog(ctx, tx, ip, id, maxAttempts, nil)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UserByLogin finds a user by username or email, both case-insensitive.
func (s *Storage) UserByLogin(ctx context.Context, login string) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(username) = lower($1) OR lower(email) = lower($1)
		ORDER BY (lower(username) = lower($1)) DESC
		LIMIT 1`, login))
}

func (s *Storage) UserByEmail(ctx context.Context, email domain.Email) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email))
}

func (s *Storage) UserById(ctx context.Context, id domain.UserId) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// ConfirmEmail flips the confirmation flag. It never reverts it.
func (s *Storage) ConfirmEmail(ctx context.Context, email domain.Email) (domain.ConfirmationStatus, error) {
	var status domain.ConfirmationStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		status, err = s.confirmEmail(ctx, tx, email)
		return err
	})
	return status, err
}

// ResetPassword replaces the password hash and restores the IP's attempt
// budget. With revokeSessions it also revokes every active session of the
// user. Returns the number of revoked sessions.
func (s *Storage) ResetPassword(ctx context.Context, userId domain.UserId, passHash string, ip domain.IP, maxAttempts int, revokeSessions bool) (int64, error) {
	var revoked int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.updatePassword(ctx, tx, userId, passHash); err != nil {
			return err
		}
		if err := s.bindIPLog(ctx, tx, ip, userId, maxAttempts, nil); err != nil {
			return err
		}
		if !revokeSessions {
			return nil
		}
		var err error
		revoked, err = s.revokeUserTokens(ctx, tx, userId)
		return err
	})
	return revoked, err
}

func (s *Storage) SetRole(ctx context.Context, userId domain.UserId, role domain.Role) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.setRole(ctx, tx, userId, role)
	})
}

// =========================================================================
// Internal Methods (Core Database Logic)
// These methods accept a Querier and are transaction-agnostic.
// =========================================================================

func (s *Storage) insertUser(ctx context.Context, q Querier, user domain.User) (domain.UserId, error) {
	var id domain.UserId
	err := q.QueryRowContext(ctx, `
		INSERT INTO users(username, email, password_hash, role, email_confirmed)
		VALUES($1, $2, $3, $4, FALSE)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		user.Username, user.Email, user.PassHash, user.Role,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	var usernameTaken bool
	err = q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE lower(username) = lower($1))", user.Username,
	).Scan(&usernameTaken)
	if err != nil {
		return 0, fmt.Errorf("failed to check username: %w", err)
	}
	if usernameTaken {
		return 0, internal_errors.Conflict("Username is already taken")
	}
	return 0, internal_errors.Conflict("Email is already registered")
}

func (s *Storage) confirmEmail(ctx context.Context, q Querier, email domain.Email) (domain.ConfirmationStatus, error) {
	var confirmed bool
	err := q.QueryRowContext(ctx,
		"SELECT email_confirmed FROM users WHERE lower(email) = lower($1) FOR UPDATE", email,
	).Scan(&confirmed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, internal_errors.NotFound("User not found")
		}
		return 0, fmt.Errorf("failed to query user: %w", err)
	}
	if confirmed {
		return domain.AlreadyConfirmed, nil
	}
	if _, err := q.ExecContext(ctx,
		"UPDATE users SET email_confirmed = TRUE WHERE lower(email) = lower($1)", email,
	); err != nil {
		return 0, fmt.Errorf("failed to confirm email: %w", err)
	}
	return domain.JustConfirmed, nil
}

func (s *Storage) updatePassword(ctx context.Context, q Querier, userId domain.UserId, passHash string) error {
	result, err := q.ExecContext(ctx, "UPDATE users SET password_hash = $1 WHERE id = $2", passHash, userId)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(result, "User not found for password update")
}

func (s *Storage) setRole(ctx context.Context, q Querier, userId domain.UserId, role domain.Role) error {
	result, err := q.ExecContext(ctx, "UPDATE users SET role = $1 WHERE id = $2", role, userId)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return expectOneRow(result, "User not found")
}

func (s *Storage) scanUser(row *sql.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.Id, &user.Username, &user.Email, &user.PassHash, &user.Role, &user.EmailConfirmed, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, internal_errors.NotFound("User not found")
		}
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func expectOneRow(result sql.Result, notFoundMsg string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return internal_errors.NotFound(notFoundMsg)
	}
	return nil
}
