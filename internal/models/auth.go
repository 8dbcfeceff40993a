package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Is reports whether the caller holds any of the given roles.
func (c *JWTClaims) Is(roles ...UserRole) bool {
	if c == nil {
		return false
	}
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}
