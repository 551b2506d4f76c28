package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gate-service/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload shared with the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

// Parse verifies an HS256 access token and returns its principal.
func (p *Parser) Parse(tokenStr string) (model.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.Principal{}, ErrInvalidToken
	}

	rawID := claims.UserID
	if rawID == "" {
		rawID = claims.Subject
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: bad user id", ErrInvalidToken)
	}

	principal := model.Principal{
		UserID: userID,
		Role:   model.UserRole(claims.Role),
	}
	if !principal.Role.Valid() {
		return model.Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.OrgID != "" {
		orgID, err := uuid.Parse(claims.OrgID)
		if err != nil {
			return model.Principal{}, fmt.Errorf("%w: bad org id", ErrInvalidToken)
		}
		principal.OrgID = orgID
	}
	return principal, nil
}

// Issue signs an access token for p. Used by the token command to hand out
// operator credentials on sites without an identity service.
func (p *Parser) Issue(principal model.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: principal.UserID.String(),
		Role:   string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if principal.OrgID != uuid.Nil {
		claims.OrgID = principal.OrgID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
