package handlers

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/jobsync/internal/validation"
)

// Issuer - значение iss в выдаваемых токенах
const Issuer = "jobsync"

// CustomClaims представляет JWT claims для нашего приложения.
// Владелец токена передается в sub.
type CustomClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the token owner
func (c *CustomClaims) UserID() string {
	return c.Subject
}

// JWTConfig содержит конфигурацию для JWT
type JWTConfig struct {
	Secret         []byte
	AccessTokenTTL time.Duration
}

// GenerateAccessToken создает новый JWT access token для userID.
// Returns the token and its lifetime in seconds.
func GenerateAccessToken(cfg JWTConfig, userID string) (string, int64, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return "", 0, err
	}
	if len(cfg.Secret) == 0 {
		return "", 0, fmt.Errorf("jwt secret is empty")
	}

	now := time.Now()
	expiresAt := now.Add(cfg.AccessTokenTTL)

	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(cfg.AccessTokenTTL.Seconds()), nil
}

// ValidateAccessToken валидирует и парсит JWT access token
func ValidateAccessToken(cfg JWTConfig, tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	}, jwt.WithIssuer(Issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if err := validation.ValidateUserID(claims.UserID()); err != nil {
		return nil, fmt.Errorf("invalid token subject: %w", err)
	}

	return claims, nil
}
