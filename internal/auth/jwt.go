package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	UserID  uuid.UUID `json:"user_id"`
	VenueID uuid.UUID `json:"venue_id"`
	Role    string    `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a venue-scoped access token. Tokens are issued by the
// identity service in production; this is used by the seed command and tests.
func GenerateToken(secret string, userID, venueID uuid.UUID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:  userID,
		VenueID: venueID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.VenueID == uuid.Nil {
		return nil, fmt.Errorf("token has no venue")
	}
	return claims, nil
}
