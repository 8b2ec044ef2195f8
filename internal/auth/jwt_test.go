package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestUserJWTRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT("secret", userID, true, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != userID || !claims.PlatformAdmin {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ParseJWT("other", token); err == nil {
		t.Error("expected error for wrong secret")
	}
	if iss, _ := Issuer(token); iss != UserIssuer {
		t.Errorf("Issuer = %q", iss)
	}
}

func TestParseAPIKeyJWT(t *testing.T) {
	serviceID := uuid.New()
	keys := []models.APIKey{
		{ID: uuid.New(), ServiceID: serviceID, Secret: "first-secret"},
		{ID: uuid.New(), ServiceID: serviceID, Secret: "second-secret"},
	}
	now := time.Now()

	staleClaims := jwt.RegisteredClaims{Issuer: serviceID.String(), IssuedAt: jwt.NewNumericDate(now.Add(-time.Minute))}
	stale, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, staleClaims).SignedString([]byte("second-secret"))
	valid, _ := GenerateAPIKeyJWT(serviceID, "second-secret")
	unknown, _ := GenerateAPIKeyJWT(serviceID, "revoked-secret")

	tests := []struct {
		name    string
		token   string
		wantKey uuid.UUID
		wantErr error
	}{
		{name: "matches second key", token: valid, wantKey: keys[1].ID},
		{name: "unknown secret", token: unknown, wantErr: ErrNoMatchingKey},
		{name: "stale token", token: stale, wantErr: ErrTokenExpired},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseAPIKeyJWT(tt.token, keys, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && key.ID != tt.wantKey {
				t.Errorf("key = %s, want %s", key.ID, tt.wantKey)
			}
		})
	}

	if iss, err := Issuer(valid); err != nil || iss != serviceID.String() {
		t.Errorf("Issuer = %q, %v", iss, err)
	}
}
