package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Login     string `json:"login" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// TokenPairResponse returns an issued access/refresh pair.
type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// LogoutRequest revokes a refresh token lineage.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// VerifyResponse describes the identity carried by a valid access token.
type VerifyResponse struct {
	UserID      string   `json:"user_id"`
	Role        UserRole `json:"role"`
	Permissions []string `json:"permissions"`
}

// AccessClaims is the JWT payload for access tokens. TokenType guards against
// other signed artifacts being replayed as access tokens.
type AccessClaims struct {
	UserID      string   `json:"user_id"`
	Role        UserRole `json:"role"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}
