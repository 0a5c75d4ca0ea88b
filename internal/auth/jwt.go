package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims carries the principal inside a signed token.
type Claims struct {
	Role booking.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager verifies credentials into Principals. Token issuance lives here too
// so the seed and simulate binaries can mint principals for themselves; a
// production identity provider would replace Issue.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given principal.
func (m *Manager) Issue(p booking.Principal) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and returns the embedded principal.
func (m *Manager) Verify(tokenString string) (booking.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return booking.Principal{}, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return booking.Principal{}, ErrInvalidToken
	}

	switch claims.Role {
	case booking.RolePatient, booking.RoleDoctor, booking.RoleAdmin:
	default:
		return booking.Principal{}, ErrInvalidToken
	}

	return booking.Principal{ID: id, Role: claims.Role}, nil
}
