package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserIssuer marks tokens issued to interactive users. Any other issuer is
// the id of the service whose API key signed the token.
const UserIssuer = "notify-admin"

// APIKeyTokenMaxAge bounds how old an API key token may be, in either direction.
const APIKeyTokenMaxAge = 30 * time.Second

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrNoMatchingKey = errors.New("no active api key matches token")
	ErrTokenExpired  = errors.New("token issued too far from now")
)

type Claims struct {
	UserID        uuid.UUID `json:"user_id"`
	PlatformAdmin bool      `json:"platform_admin"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a user token. A non-positive expiration means 24h.
func GenerateJWT(secret string, userID uuid.UUID, platformAdmin bool, expiration time.Duration) (string, error) {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	claims := Claims{
		UserID:        userID,
		PlatformAdmin: platformAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    UserIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, hmacKey([]byte(secret)), jwt.WithIssuer(UserIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issuer reads the iss claim without verifying the signature, so the caller
// can pick the right secret.
func Issuer(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Issuer == "" {
		return "", fmt.Errorf("%w: missing iss", ErrInvalidToken)
	}
	return claims.Issuer, nil
}

// GenerateAPIKeyJWT creates the short-lived token an API client sends: iss is
// the service id and the key secret signs it.
func GenerateAPIKeyJWT(serviceID uuid.UUID, secret string) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   serviceID.String(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAPIKeyJWT finds the key among keys whose secret signed the token.
func ParseAPIKeyJWT(tokenStr string, keys []models.APIKey, now time.Time) (*models.APIKey, error) {
	for i := range keys {
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(tokenStr, &claims, hmacKey([]byte(keys[i].Secret)))
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		if claims.IssuedAt == nil {
			return nil, fmt.Errorf("%w: missing iat", ErrInvalidToken)
		}
		if age := now.Sub(claims.IssuedAt.Time); age > APIKeyTokenMaxAge || age < -APIKeyTokenMaxAge {
			return nil, ErrTokenExpired
		}
		return &keys[i], nil
	}
	return nil, ErrNoMatchingKey
}

func hmacKey(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}
