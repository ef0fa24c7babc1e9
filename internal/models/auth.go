package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the actor may use administrative overrides.
func (c *JWTClaims) IsAdmin() bool {
	return c != nil && c.Role.IsAdmin()
}

// ActorID returns the user id or an empty string for a nil actor.
func (c *JWTClaims) ActorID() string {
	if c == nil {
		return ""
	}
	return c.UserID
}
