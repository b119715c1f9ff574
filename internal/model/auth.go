package model

import "time"

type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
	Email    string `json:"email" validate:"required,contains=@"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is what register and login hand back to callers.
type AuthResult struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}

type User struct {
	ID           int64
	Username     string
	PasswordHash string `json:"-"`
	Email        string
	AvatarURL    *string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the only outward representation of a user; it has no
// password hash field.
type PublicUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
}

func (u *User) Public() PublicUser {
	avatar := ""
	if u.AvatarURL != nil {
		avatar = *u.AvatarURL
	}
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: avatar,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.Unix(),
	}
}
