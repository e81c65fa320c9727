package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/guildwarden/internal/domain"
	"github.com/xela07ax/guildwarden/internal/infra/auth"
)

// AuthService выдает и проверяет токены консоли. У агента нет таблицы
// пользователей: единственный оператор описан в конфиге.
type AuthService struct {
	*auth.RS256Validator

	admin      domain.AdminUser
	privateKey *rsa.PrivateKey
	tokenTTL   time.Duration
}

func NewAuthService(admin domain.AdminUser, pubKey *rsa.PublicKey, privKey *rsa.PrivateKey, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		RS256Validator: auth.NewRS256Validator(pubKey),
		admin:          admin,
		privateKey:     privKey,
		tokenTTL:       ttl,
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация против конфига
	if username == "" || username != s.admin.Username {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(s.admin.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims
	scopes := s.admin.Scopes
	if scopes == nil {
		scopes = map[string]bool{"admin": true}
	}
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &domain.CustomClaims{
		UserID: s.admin.Username,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "guildwarden-console",
			Subject:   s.admin.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
