package models

import (
	"errors"
	"time"
)

var ErrUsernameTaken = errors.New("username already taken")

// User is an operator allowed to drive the command surface.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
