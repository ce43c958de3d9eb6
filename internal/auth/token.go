package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

// sessionClaims carries the profile fields a client needs to resume a
// session without re-sending credentials.
type sessionClaims struct {
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Phone    string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a session resume token for the user.
func (p *Provider) IssueToken(user User) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Nickname: user.Username,
		Avatar:   user.Avatar,
		Phone:    user.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a session resume token and reconstructs the user
// profile from its claims.
func (p *Provider) VerifyToken(tokenString string) (User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return User{}, fmt.Errorf("invalid session token: %w", err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return User{}, errors.New("session token missing subject")
	}

	return User{
		ID:       claims.Subject,
		Phone:    claims.Phone,
		Username: claims.Nickname,
		Avatar:   claims.Avatar,
	}, nil
}
