package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier is the external identity collaborator: it turns a bearer
// credential into a verified opaque user id, or fails.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (userID string, err error)
}

// JWTVerifier validates HMAC-signed access tokens issued by the identity
// provider and extracts the subject claim. Every failure mode (bad
// signature, expired, malformed, missing subject) collapses into
// ErrInvalidToken so callers fail closed without leaking parse details.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(_ context.Context, accessToken string) (string, error) {
	const op = "identity.JWTVerifier.Verify"

	token, err := jwt.ParseWithClaims(accessToken, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return sub, nil
}
