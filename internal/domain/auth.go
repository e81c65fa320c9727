package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// AdminUser — единственный оператор консоли. Источник правды — конфиг,
// отдельной таблицы пользователей у агента нет.
type AdminUser struct {
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // bcrypt, никогда не отдаем наружу
	Scopes       map[string]bool `json:"scopes"`
}
