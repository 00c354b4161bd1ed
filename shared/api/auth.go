package api

// Request DTOs

type RegisterRequest struct {
	Username        string `json:"username" validate:"required"`
	Email           string `json:"email" validate:"required"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// LoginRequest accepts either a username or an email in Username.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// EmailRequest is not tag validated: a missing email is a failed recovery
// attempt like any other malformed address.
type EmailRequest struct {
	Email string `json:"email"`
}

// CompleteResetRequest is checked by the service after the token.
type CompleteResetRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Response DTOs

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token"` // Token for non-cookie clients (mobile, API clients)
}

type ConfirmEmailResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AlreadyConfirmed bool   `json:"already_confirmed"`
}

type ResetRequestResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	Status            string `json:"status"`
	RemainingAttempts int    `json:"remaining_attempts"`
}

type ResetTokenResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
	Code    string   `json:"code,omitempty"`

	// Set when a confirmation link expired for a user that can still be confirmed.
	Email     string `json:"email,omitempty"`
	CanResend bool   `json:"can_resend,omitempty"`

	// Set on password reset request failures that consumed an attempt.
	RemainingAttempts *int `json:"remaining_attempts,omitempty"`
}
