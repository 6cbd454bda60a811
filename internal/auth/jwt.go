package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gymhub/chat/internal/model"
)

// Claims of an access token. Sub is the participant id; Role is optional and,
// when present, must match the channel-space the token is presented to.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a per-role secret.
type JWTVerifier struct {
	secret []byte
	role   model.ParticipantRole
	parser *jwt.Parser
}

func NewJWTVerifier(secret string, role model.ParticipantRole) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		role:   role,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (model.Participant, error) {
	if token == "" || len(v.secret) == 0 {
		return model.Participant{}, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return model.Participant{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return model.Participant{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if claims.Role != "" {
		role, err := model.ParseRole(claims.Role)
		if err != nil || role != v.role {
			return model.Participant{}, fmt.Errorf("%w: role mismatch", ErrInvalidToken)
		}
	}
	return model.Participant{ID: sub, Role: v.role}, nil
}

// Sign issues a token for p. Used by tests and the -token flag of the service.
func Sign(secret string, p model.Participant, claims jwt.RegisteredClaims) (string, error) {
	if claims.Subject == "" {
		claims.Subject = p.ID
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(p.Role), RegisteredClaims: claims})
	s, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	return s, nil
}
