package domain

import "time"

// TokenPurpose is the "type" claim of a purpose token.
type TokenPurpose = string

const (
	PurposeEmailConfirmation TokenPurpose = "email_confirmation"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// Registration is the input of the registration flow.
type Registration struct {
	Username        Username
	Email           Email
	Password        Password
	ConfirmPassword Password
	IP              IP
}

// Credentials is the input of the login flow. Login may be a username or an email.
type Credentials struct {
	Login     string
	Password  Password
	IP        IP
	UserAgent string
}

// IPAttemptLog is the per-IP throttle state of the recovery flow.
type IPAttemptLog struct {
	IP               IP
	UserId           *UserId
	RecoveryAttempts int
	Blocked          bool
	UserAgent        string
}

// IssuedToken is a Session Registry row for one access token.
type IssuedToken struct {
	Jti       TokenId
	UserId    UserId
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Usable is the server side half of token validity.
func (t IssuedToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Session is the authenticated principal attached to a request.
type Session struct {
	User User
	Jti  TokenId
}

// PasswordReset is the input of the password reset completion flow.
type PasswordReset struct {
	Token           string
	Password        Password
	ConfirmPassword Password
	IP              IP
}

// ConfirmationStatus distinguishes a fresh confirmation from a repeated one.
type ConfirmationStatus int

const (
	JustConfirmed ConfirmationStatus = iota + 1
	AlreadyConfirmed
)

// ResetRequestOutcome is the result of one password reset request.
type ResetRequestOutcome int

const (
	ResetLinkSent ResetRequestOutcome = iota + 1
	ResetInvalidEmail
	ResetUnknownEmail
	ResetUnconfirmed
	ResetAttemptsExhausted
	ResetDeliveryFailed
)

func (o ResetRequestOutcome) String() string {
	switch o {
	case ResetLinkSent:
		return "link_sent"
	case ResetInvalidEmail:
		return "invalid_email"
	case ResetUnknownEmail:
		return "unknown_email"
	case ResetUnconfirmed:
		return "unconfirmed"
	case ResetAttemptsExhausted:
		return "exhausted"
	case ResetDeliveryFailed:
		return "delivery_failed"
	}
	return "unknown"
}

type ResetRequestResult struct {
	Outcome           ResetRequestOutcome
	RemainingAttempts int
}
