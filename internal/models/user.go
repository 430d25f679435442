package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the single privilege level a user holds
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User represents a user in the system
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"` // Not serialized
	FirstName    string     `json:"first_name"`
	SecondName   string     `json:"second_name"`
	MiddleName   string     `json:"middle_name"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsAdmin reports whether the user holds the ADMIN role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
