package service

import (
	"context"
	"log/slog"
	"net"

	"github.com/storefront-dev/storefront/shared/config"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
)

type AdminService interface {
	UserSessions(ctx context.Context, userId domain.UserId) ([]domain.IssuedToken, error)
	RevokeUserSessions(ctx context.Context, actor domain.User, userId domain.UserId) (int64, error)
	RevokeSession(ctx context.Context, actor domain.User, jti domain.TokenId) error
	SetRole(ctx context.Context, actor domain.User, userId domain.UserId, role domain.Role) error
	IPLogs(ctx context.Context) ([]domain.IPAttemptLog, error)
	BlockIP(ctx context.Context, actor domain.User, ip domain.IP) error
	UnblockIP(ctx context.Context, actor domain.User, ip domain.IP) error
	ResetIP(ctx context.Context, actor domain.User, ip domain.IP) error
	CollectSessions(ctx context.Context) (int64, error)
}

type AdminStorage interface {
	UserById(ctx context.Context, id domain.UserId) (domain.User, error)
	SetRole(ctx context.Context, userId domain.UserId, role domain.Role) error

	ListUserTokens(ctx context.Context, userId domain.UserId) ([]domain.IssuedToken, error)
	RevokeUserTokens(ctx context.Context, userId domain.UserId) (int64, error)
	RevokeToken(ctx context.Context, jti domain.TokenId) error

	ListIPLogs(ctx context.Context) ([]domain.IPAttemptLog, error)
	SetIPBlocked(ctx context.Context, ip domain.IP, blocked bool, maxAttempts int) error
	ResetIPAttempts(ctx context.Context, ip domain.IP, maxAttempts int) error
}

// Admin holds the admin-only operations over the Session Registry and the
// IP Attempt Ledger. Every mutation is audit logged with the acting admin.
type Admin struct {
	storage AdminStorage
	gc      *SessionGarbageCollector
	cfg     *config.Public
	logger  *slog.Logger
}

func NewAdmin(storage AdminStorage, gc *SessionGarbageCollector, cfg *config.Public, logger *slog.Logger) *Admin {
	return &Admin{storage: storage, gc: gc, cfg: cfg, logger: logger}
}

func (a *Admin) UserSessions(ctx context.Context, userId domain.UserId) ([]domain.IssuedToken, error) {
	if _, err := a.storage.UserById(ctx, userId); err != nil {
		return nil, err
	}
	return a.storage.ListUserTokens(ctx, userId)
}

// RevokeUserSessions takes effect on the user's next request.
func (a *Admin) RevokeUserSessions(ctx context.Context, actor domain.User, userId domain.UserId) (int64, error) {
	if _, err := a.storage.UserById(ctx, userId); err != nil {
		return 0, err
	}
	n, err := a.storage.RevokeUserTokens(ctx, userId)
	if err != nil {
		return 0, err
	}
	revocationsTotal.WithLabelValues("admin").Add(float64(n))
	a.logger.Warn("audit: user sessions revoked", "admin_id", actor.Id, "user_id", userId, "revoked", n)
	return n, nil
}

func (a *Admin) RevokeSession(ctx context.Context, actor domain.User, jti domain.TokenId) error {
	if err := a.storage.RevokeToken(ctx, jti); err != nil {
		return err
	}
	revocationsTotal.WithLabelValues("admin").Inc()
	a.logger.Warn("audit: session revoked", "admin_id", actor.Id, "jti", jti)
	return nil
}

func (a *Admin) SetRole(ctx context.Context, actor domain.User, userId domain.UserId, role domain.Role) error {
	if !domain.IsValidRole(role) {
		return internal_errors.Validation("Unknown role")
	}
	if actor.Id == userId && role != domain.RoleAdmin {
		return internal_errors.Forbidden("Admins cannot demote themselves")
	}
	if err := a.storage.SetRole(ctx, userId, role); err != nil {
		return err
	}
	a.logger.Warn("audit: role changed", "admin_id", actor.Id, "user_id", userId, "role", role)
	return nil
}

func (a *Admin) IPLogs(ctx context.Context) ([]domain.IPAttemptLog, error) {
	return a.storage.ListIPLogs(ctx)
}

func (a *Admin) BlockIP(ctx context.Context, actor domain.User, ip domain.IP) error {
	return a.setBlocked(ctx, actor, ip, true)
}

func (a *Admin) UnblockIP(ctx context.Context, actor domain.User, ip domain.IP) error {
	return a.setBlocked(ctx, actor, ip, false)
}

func (a *Admin) setBlocked(ctx context.Context, actor domain.User, ip domain.IP, blocked bool) error {
	ip, err := canonicalIP(ip)
	if err != nil {
		return err
	}
	if err := a.storage.SetIPBlocked(ctx, ip, blocked, a.cfg.MaxRecoveryAttempts); err != nil {
		return err
	}
	a.logger.Warn("audit: ip block changed", "admin_id", actor.Id, "ip", ip, "blocked", blocked)
	return nil
}

// ResetIP restores the full recovery budget of ip.
func (a *Admin) ResetIP(ctx context.Context, actor domain.User, ip domain.IP) error {
	ip, err := canonicalIP(ip)
	if err != nil {
		return err
	}
	if err := a.storage.ResetIPAttempts(ctx, ip, a.cfg.MaxRecoveryAttempts); err != nil {
		return err
	}
	a.logger.Warn("audit: ip attempts reset", "admin_id", actor.Id, "ip", ip)
	return nil
}

func (a *Admin) CollectSessions(ctx context.Context) (int64, error) {
	return a.gc.RunCleanup(ctx)
}

// canonicalIP matches the form produced by net.ParseIP(...).String(), which
// is how request IPs are stored.
func canonicalIP(ip domain.IP) (domain.IP, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", internal_errors.Validation("Invalid IP address")
	}
	return parsed.String(), nil
}
