package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
)

const ipLogColumns = "ip, user_id, recovery_attempts, is_blocked, user_agent"

// EnsureIPLog returns the attempt log of ip, creating it with a full budget
// on first sight.
func (s *Storage) EnsureIPLog(ctx context.Context, ip domain.IP, maxAttempts int) (domain.IPAttemptLog, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_attempt_log(ip, recovery_attempts)
		VALUES($1, $2)
		ON CONFLICT (ip) DO NOTHING`,
		ip, maxAttempts,
	)
	if err != nil {
		return domain.IPAttemptLog{}, fmt.Errorf("failed to create ip log: %w", err)
	}
	return s.ipLog(ctx, s.db, ip)
}

// DecrementRecoveryAttempts atomically consumes one attempt and returns what
// is left. The counter never goes below zero.
func (s *Storage) DecrementRecoveryAttempts(ctx context.Context, ip domain.IP) (int, error) {
	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE ip_attempt_log
		SET recovery_attempts = GREATEST(recovery_attempts - 1, 0), updated_at = now()
		WHERE ip = $1
		RETURNING recovery_attempts`,
		ip,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, internal_errors.NotFound("IP log not found")
		}
		return 0, fmt.Errorf("failed to decrement recovery attempts: %w", err)
	}
	return remaining, nil
}

// IsIPBlocked is false for IPs that have no log yet.
func (s *Storage) IsIPBlocked(ctx context.Context, ip domain.IP) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx, "SELECT is_blocked FROM ip_attempt_log WHERE ip = $1", ip).Scan(&blocked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query ip block: %w", err)
	}
	return blocked, nil
}

// SetIPBlocked sets the block flag, creating the log if needed.
func (s *Storage) SetIPBlocked(ctx context.Context, ip domain.IP, blocked bool, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_attempt_log(ip, recovery_attempts, is_blocked)
		VALUES($1, $2, $3)
		ON CONFLICT (ip) DO UPDATE SET is_blocked = EXCLUDED.is_blocked, updated_at = now()`,
		ip, maxAttempts, blocked,
	)
	if err != nil {
		return fmt.Errorf("failed to set ip block: %w", err)
	}
	return nil
}

// ResetIPAttempts restores the full budget without touching the owner.
func (s *Storage) ResetIPAttempts(ctx context.Context, ip domain.IP, maxAttempts int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE ip_attempt_log SET recovery_attempts = $2, updated_at = now() WHERE ip = $1",
		ip, maxAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to reset ip attempts: %w", err)
	}
	return expectOneRow(result, "IP log not found")
}

// BlockedIPs lists every blocked address for the in-memory blocklist.
func (s *Storage) BlockedIPs(ctx context.Context) ([]domain.IP, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT ip FROM ip_attempt_log WHERE is_blocked")
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked ips: %w", err)
	}
	defer rows.Close()

	var ips []domain.IP
	for rows.Next() {
		var ip domain.IP
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocked ips: %w", err)
	}
	return ips, nil
}

func (s *Storage) ListIPLogs(ctx context.Context) ([]domain.IPAttemptLog, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ipLogColumns+" FROM ip_attempt_log ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query ip logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.IPAttemptLog
	for rows.Next() {
		l, err := scanIPLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ip logs: %w", err)
	}
	return logs, nil
}

// =========================================================================
// Internal Methods
// =========================================================================

func (s *Storage) ipLog(ctx context.Context, q Querier, ip domain.IP) (domain.IPAttemptLog, error) {
	l, err := scanIPLog(q.QueryRowContext(ctx, "SELECT "+ipLogColumns+" FROM ip_attempt_log WHERE ip = $1", ip))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IPAttemptLog{}, internal_errors.NotFound("IP log not found")
	}
	return l, err
}

// bindIPLog attaches ip to the user with a full attempt budget. The user agent
// is only overwritten when given. The block flag is left alone.
func (s *Storage) bindIPLog(ctx context.Context, q Querier, ip domain.IP, userId domain.UserId, maxAttempts int, userAgent *string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ip_attempt_log(ip, user_id, recovery_attempts, user_agent)
		VALUES($1, $2, $3, COALESCE($4::text, ''))
		ON CONFLICT (ip) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			recovery_attempts = EXCLUDED.recovery_attempts,
			user_agent = COALESCE($4::text, ip_attempt_log.user_agent),
			updated_at = now()`,
		ip, userId, maxAttempts, userAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to bind ip log: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIPLog(row scanner) (domain.IPAttemptLog, error) {
	var (
		l      domain.IPAttemptLog
		userId sql.NullInt64
	)
	if err := row.Scan(&l.IP, &userId, &l.RecoveryAttempts, &l.Blocked, &l.UserAgent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan ip log: %w", err)
	}
	if userId.Valid {
		id := userId.Int64
		l.UserId = &id
	}
	return l, nil
}
