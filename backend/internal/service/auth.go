package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/storefront-dev/storefront/backend/internal/utils/email"
	"github.com/storefront-dev/storefront/shared/config"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	jwt_internal "github.com/storefront-dev/storefront/shared/jwt"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	maxUserAgentLen   = 512
)

type AuthService interface {
	Register(ctx context.Context, reg domain.Registration) (domain.UserId, error)
	ConfirmEmail(ctx context.Context, token string) (domain.ConfirmationStatus, error)
	ConfirmationResendHint(ctx context.Context, token string) (domain.Email, bool)
	ResendConfirmation(ctx context.Context, rawEmail string) (bool, error)
	Login(ctx context.Context, creds domain.Credentials) (string, error)
	Logout(ctx context.Context, token string)
	Authenticate(ctx context.Context, token string) (domain.Session, error)
	RequestPasswordReset(ctx context.Context, rawEmail string, ip domain.IP) (domain.ResetRequestResult, error)
	CheckPasswordResetToken(ctx context.Context, token string) (domain.Email, error)
	CompletePasswordReset(ctx context.Context, reset domain.PasswordReset) error
}

type AuthStorage interface {
	CreateUser(ctx context.Context, user domain.User, ip domain.IP, maxAttempts int) (domain.UserId, error)
	UserByLogin(ctx context.Context, login string) (domain.User, error)
	UserByEmail(ctx context.Context, email domain.Email) (domain.User, error)
	ConfirmEmail(ctx context.Context, email domain.Email) (domain.ConfirmationStatus, error)
	ResetPassword(ctx context.Context, userId domain.UserId, passHash string, ip domain.IP, maxAttempts int, revokeSessions bool) (int64, error)

	RecordLogin(ctx context.Context, token domain.IssuedToken, ip domain.IP, userAgent string, maxAttempts int) error
	Authenticate(ctx context.Context, jti domain.TokenId, userId domain.UserId) (domain.User, error)
	RevokeToken(ctx context.Context, jti domain.TokenId) error

	EnsureIPLog(ctx context.Context, ip domain.IP, maxAttempts int) (domain.IPAttemptLog, error)
	DecrementRecoveryAttempts(ctx context.Context, ip domain.IP) (int, error)
}

type Email interface {
	Send(ctx context.Context, recipientEmail, subject, body string) error
}

type EmailNormalizer interface {
	Normalize(ctx context.Context, raw string) (domain.Email, error)
}

type Auth struct {
	storage    AuthStorage
	email      Email
	normalizer EmailNormalizer
	jwt        jwt_internal.JwtService
	cfg        *config.Public
	sanitizer  *bluemonday.Policy
	logger     *slog.Logger
}

func NewAuth(storage AuthStorage, email Email, normalizer EmailNormalizer, jwt jwt_internal.JwtService, cfg *config.Public, logger *slog.Logger) *Auth {
	return &Auth{
		storage:    storage,
		email:      email,
		normalizer: normalizer,
		jwt:        jwt,
		cfg:        cfg,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger,
	}
}

// Register sends the confirmation link first and only then stores the user,
// so a failed delivery leaves nothing behind.
func (a *Auth) Register(ctx context.Context, reg domain.Registration) (domain.UserId, error) {
	id, err := a.register(ctx, reg)
	if err != nil {
		registrationsTotal.WithLabelValues(outcomeFailure).Inc()
		return 0, err
	}
	registrationsTotal.WithLabelValues(outcomeSuccess).Inc()
	return id, nil
}

func (a *Auth) register(ctx context.Context, reg domain.Registration) (domain.UserId, error) {
	username := strings.TrimSpace(reg.Username)
	if username == "" || strings.TrimSpace(reg.Email) == "" || reg.Password == "" || reg.ConfirmPassword == "" {
		return 0, internal_errors.Validation("All fields are required")
	}
	if reg.Password != reg.ConfirmPassword {
		return 0, internal_errors.Validation("Passwords do not match")
	}
	if err := a.validateUsername(username); err != nil {
		return 0, err
	}

	mail, err := a.normalizer.Normalize(ctx, reg.Email)
	if err != nil {
		return 0, err
	}

	// Early check so that no email goes out for a taken account. The unique
	// indexes behind CreateUser remain the real guard.
	if _, err := a.storage.UserByLogin(ctx, username); err == nil {
		return 0, internal_errors.Conflict("Username is already taken")
	} else if !internal_errors.IsNotFound(err) {
		return 0, err
	}
	if _, err := a.storage.UserByEmail(ctx, mail); err == nil {
		return 0, internal_errors.Conflict("Email is already registered")
	} else if !internal_errors.IsNotFound(err) {
		return 0, err
	}

	passHash, err := hashPassword(reg.Password)
	if err != nil {
		return 0, err
	}

	if err := a.sendConfirmation(ctx, username, mail, http.StatusBadRequest); err != nil {
		return 0, err
	}

	id, err := a.storage.CreateUser(ctx, domain.User{
		Username: username,
		Email:    mail,
		PassHash: passHash,
		Role:     domain.RoleUser,
	}, reg.IP, a.cfg.MaxRecoveryAttempts)
	if err != nil {
		return 0, err
	}
	a.logger.Info("user registered", "user_id", id, "ip", reg.IP)
	return id, nil
}

func (a *Auth) ConfirmEmail(ctx context.Context, token string) (domain.ConfirmationStatus, error) {
	claims, err := a.jwt.DecodePurposeToken(token, domain.PurposeEmailConfirmation)
	if err != nil {
		confirmationsTotal.WithLabelValues(outcomeFailure).Inc()
		return 0, err
	}
	status, err := a.storage.ConfirmEmail(ctx, claims.Subject)
	if err != nil {
		confirmationsTotal.WithLabelValues(outcomeFailure).Inc()
		return 0, err
	}
	if status == domain.JustConfirmed {
		a.logger.Info("email confirmed", "email", claims.Subject)
	}
	confirmationsTotal.WithLabelValues(outcomeSuccess).Inc()
	return status, nil
}

// ConfirmationResendHint returns the email of a confirmation token that only
// failed because it expired, if that account still awaits confirmation.
func (a *Auth) ConfirmationResendHint(ctx context.Context, token string) (domain.Email, bool) {
	mail, ok := a.jwt.ExpiredPurposeSubject(token, domain.PurposeEmailConfirmation)
	if !ok {
		return "", false
	}
	user, err := a.storage.UserByEmail(ctx, mail)
	if err != nil || user.EmailConfirmed {
		return "", false
	}
	return user.Email, true
}

// ResendConfirmation mails a fresh confirmation link. It reports false
// without sending anything when the account is already confirmed.
func (a *Auth) ResendConfirmation(ctx context.Context, rawEmail string) (bool, error) {
	mail, err := a.normalizer.Normalize(ctx, rawEmail)
	if err != nil {
		return false, err
	}
	user, err := a.storage.UserByEmail(ctx, mail)
	if err != nil {
		return false, err
	}
	if user.EmailConfirmed {
		return false, nil
	}
	if err := a.sendConfirmation(ctx, user.Username, user.Email, http.StatusServiceUnavailable); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Auth) Login(ctx context.Context, creds domain.Credentials) (string, error) {
	token, err := a.login(ctx, creds)
	if err != nil {
		var e *internal_errors.ErrorWithStatusCode
		if errors.As(err, &e) {
			loginsTotal.WithLabelValues(e.Code).Inc()
		} else {
			loginsTotal.WithLabelValues(outcomeFailure).Inc()
		}
		return "", err
	}
	loginsTotal.WithLabelValues(outcomeSuccess).Inc()
	return token, nil
}

func (a *Auth) login(ctx context.Context, creds domain.Credentials) (string, error) {
	login := strings.TrimSpace(creds.Login)
	if login == "" || creds.Password == "" {
		return "", internal_errors.InvalidCredentials()
	}

	user, err := a.storage.UserByLogin(ctx, login)
	if err != nil {
		if !internal_errors.IsNotFound(err) {
			return "", err
		}
		// Burn the same time as a real comparison so unknown logins are not
		// distinguishable by latency.
		checkPassword(dummyHash, creds.Password)
		return "", internal_errors.InvalidCredentials()
	}
	if !checkPassword(user.PassHash, creds.Password) {
		return "", internal_errors.InvalidCredentials()
	}
	if !user.EmailConfirmed {
		return "", internal_errors.EmailUnconfirmed("Please confirm your email before signing in")
	}

	token, record, err := a.jwt.NewAccessToken(user.Id)
	if err != nil {
		return "", err
	}
	if err := a.storage.RecordLogin(ctx, record, creds.IP, a.sanitizeUserAgent(creds.UserAgent), a.cfg.MaxRecoveryAttempts); err != nil {
		return "", err
	}
	a.logger.Info("user logged in", "user_id", user.Id, "ip", creds.IP, "jti", record.Jti)
	return token, nil
}

// Logout revokes the presented token if it is still a valid one.
// It never fails from the caller's point of view.
func (a *Auth) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	claims, err := a.jwt.DecodeAccessToken(token)
	if err != nil {
		return
	}
	if err := a.storage.RevokeToken(ctx, claims.ID); err != nil {
		if !internal_errors.IsNotFound(err) {
			a.logger.Error("failed to revoke token on logout", "jti", claims.ID, "error", err)
		}
		return
	}
	revocationsTotal.WithLabelValues("logout").Inc()
	a.logger.Info("user logged out", "user_id", claims.UserId(), "jti", claims.ID)
}

// Authenticate checks the token itself and then the Session Registry.
// Any failure is reported as the same invalid token error.
func (a *Auth) Authenticate(ctx context.Context, token string) (domain.Session, error) {
	claims, err := a.jwt.DecodeAccessToken(token)
	if err != nil {
		return domain.Session{}, err
	}
	user, err := a.storage.Authenticate(ctx, claims.ID, claims.UserId())
	if err != nil {
		if internal_errors.IsNotFound(err) {
			return domain.Session{}, internal_errors.InvalidToken("Invalid token")
		}
		return domain.Session{}, err
	}
	return domain.Session{User: user, Jti: claims.ID}, nil
}

// RequestPasswordReset drives the per-IP attempt budget. Only inputs that do
// not identify an account consume an attempt.
func (a *Auth) RequestPasswordReset(ctx context.Context, rawEmail string, ip domain.IP) (domain.ResetRequestResult, error) {
	result, err := a.requestPasswordReset(ctx, rawEmail, ip)
	if err != nil {
		return result, err
	}
	resetRequestsTotal.WithLabelValues(result.Outcome.String()).Inc()
	return result, nil
}

func (a *Auth) requestPasswordReset(ctx context.Context, rawEmail string, ip domain.IP) (domain.ResetRequestResult, error) {
	ipLog, err := a.storage.EnsureIPLog(ctx, ip, a.cfg.MaxRecoveryAttempts)
	if err != nil {
		return domain.ResetRequestResult{}, err
	}
	if ipLog.RecoveryAttempts <= 0 {
		return domain.ResetRequestResult{Outcome: domain.ResetAttemptsExhausted}, nil
	}

	mail, err := a.normalizer.Normalize(ctx, rawEmail)
	if err != nil {
		if !errors.Is(err, internal_errors.ErrInvalidEmail) {
			return domain.ResetRequestResult{}, err
		}
		return a.consumeAttempt(ctx, ip, domain.ResetInvalidEmail)
	}

	user, err := a.storage.UserByEmail(ctx, mail)
	if err != nil {
		if !internal_errors.IsNotFound(err) {
			return domain.ResetRequestResult{}, err
		}
		return a.consumeAttempt(ctx, ip, domain.ResetUnknownEmail)
	}

	if !user.EmailConfirmed {
		return domain.ResetRequestResult{Outcome: domain.ResetUnconfirmed, RemainingAttempts: ipLog.RecoveryAttempts}, nil
	}

	token, err := a.jwt.NewPurposeToken(user.Email, domain.PurposePasswordReset, a.cfg.PasswordResetTokenTTL)
	if err != nil {
		return domain.ResetRequestResult{}, err
	}
	msg := email.PasswordResetMessage(user.Username, a.link("/reset-password/token", token), a.cfg.PasswordResetTokenTTL)
	if err := a.email.Send(ctx, user.Email, msg.Subject, msg.Body); err != nil {
		a.logger.Error("failed to send password reset email", "user_id", user.Id, "error", err)
		return domain.ResetRequestResult{Outcome: domain.ResetDeliveryFailed, RemainingAttempts: ipLog.RecoveryAttempts}, nil
	}
	a.logger.Info("password reset link sent", "user_id", user.Id, "ip", ip)
	return domain.ResetRequestResult{Outcome: domain.ResetLinkSent, RemainingAttempts: ipLog.RecoveryAttempts}, nil
}

func (a *Auth) consumeAttempt(ctx context.Context, ip domain.IP, outcome domain.ResetRequestOutcome) (domain.ResetRequestResult, error) {
	remaining, err := a.storage.DecrementRecoveryAttempts(ctx, ip)
	if err != nil {
		return domain.ResetRequestResult{}, err
	}
	if remaining <= 0 {
		a.logger.Warn("password reset attempts exhausted", "ip", ip)
		return domain.ResetRequestResult{Outcome: domain.ResetAttemptsExhausted}, nil
	}
	return domain.ResetRequestResult{Outcome: outcome, RemainingAttempts: remaining}, nil
}

// CheckPasswordResetToken validates a reset token and returns the account email.
func (a *Auth) CheckPasswordResetToken(ctx context.Context, token string) (domain.Email, error) {
	claims, err := a.jwt.DecodePurposeToken(token, domain.PurposePasswordReset)
	if err != nil {
		return "", err
	}
	user, err := a.storage.UserByEmail(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

// CompletePasswordReset sets the new password, restores the requesting IP's
// budget and, if configured, revokes all sessions of the user.
func (a *Auth) CompletePasswordReset(ctx context.Context, reset domain.PasswordReset) error {
	claims, err := a.jwt.DecodePurposeToken(reset.Token, domain.PurposePasswordReset)
	if err != nil {
		return err
	}
	user, err := a.storage.UserByEmail(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if reset.Password == "" || reset.ConfirmPassword == "" {
		return internal_errors.Validation("Password is required")
	}
	if reset.Password != reset.ConfirmPassword {
		return internal_errors.Validation("Passwords do not match")
	}

	passHash, err := hashPassword(reset.Password)
	if err != nil {
		return err
	}
	revoked, err := a.storage.ResetPassword(ctx, user.Id, passHash, reset.IP, a.cfg.MaxRecoveryAttempts, a.cfg.RevokeSessionsOnPasswordReset)
	if err != nil {
		return err
	}

	passwordResetsTotal.Inc()
	revocationsTotal.WithLabelValues("password_reset").Add(float64(revoked))
	// Reset tokens are not single use, so every completion is audited.
	a.logger.Warn("audit: password reset completed",
		"user_id", user.Id,
		"ip", reset.IP,
		"token_id", claims.ID,
		"token_expires_at", claims.ExpiresAt.Time,
		"revoked_sessions", revoked,
	)
	return nil
}

func (a *Auth) sendConfirmation(ctx context.Context, username string, mail domain.Email, failStatus int) error {
	token, err := a.jwt.NewPurposeToken(mail, domain.PurposeEmailConfirmation, a.cfg.ConfirmationTokenTTL)
	if err != nil {
		return err
	}
	msg := email.ConfirmationMessage(username, a.link("/confirm-email", token), a.cfg.ConfirmationTokenTTL)
	if err := a.email.Send(ctx, mail, msg.Subject, msg.Body); err != nil {
		a.logger.Error("failed to send confirmation email", "email", mail, "error", err)
		return internal_errors.Delivery("Failed to send confirmation email, try again later", failStatus)
	}
	return nil
}

func (a *Auth) link(path, token string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// validateUsername rejects markup, whitespace and '@', which would make a
// username ambiguous with an email at login.
func (a *Auth) validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return internal_errors.Validation(fmt.Sprintf("Username must be %d to %d characters long", minUsernameLength, maxUsernameLength))
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '@' {
			return internal_errors.Validation("Username contains forbidden characters")
		}
	}
	if a.sanitizer.Sanitize(username) != username {
		return internal_errors.Validation("Username contains forbidden characters")
	}
	return nil
}

// sanitizeUserAgent keeps the header as sent minus invalid UTF-8 and control
// characters, cut to maxUserAgentLen bytes on a rune boundary.
func (a *Auth) sanitizeUserAgent(ua string) string {
	ua = strings.ToValidUTF8(ua, "")
	ua = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, ua)
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
		for !utf8.ValidString(ua) {
			ua = ua[:len(ua)-1]
		}
	}
	return ua
}
