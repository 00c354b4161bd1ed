package api

import "time"

type UserResponse struct {
	Id       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin staff user"`
}

type SessionResponse struct {
	Jti       string    `json:"jti"`
	UserId    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	Active    bool      `json:"active"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type RevokeResponse struct {
	Success bool  `json:"success"`
	Revoked int64 `json:"revoked"`
}

type GCResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

type IPLogResponse struct {
	IP               string `json:"ip"`
	UserId           *int64 `json:"user_id"`
	RecoveryAttempts int    `json:"recovery_attempts"`
	Blocked          bool   `json:"blocked"`
	UserAgent        string `json:"user_agent"`
}

type IPLogsResponse struct {
	IPs []IPLogResponse `json:"ips"`
}
