package domain

import "time"

type Role = string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
	RoleUser  Role = "user"
)

// IsValidRole reports whether r is one of the known roles.
func IsValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleUser:
		return true
	}
	return false
}

type User struct {
	Id             UserId
	Username       Username
	Email          Email
	PassHash       string
	Role           Role
	EmailConfirmed bool
	CreatedAt      time.Time
}

// IsStaff is true for staff and admins.
func (u User) IsStaff() bool {
	return u.Role == RoleStaff || u.Role == RoleAdmin
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
