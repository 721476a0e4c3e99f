package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService handles JWT creation and validation for admin sessions.
type TokenService struct {
	secretKey []byte

	// AccessTokenDuration bounds how long an issued token stays valid.
	AccessTokenDuration time.Duration
}

// JWTClaims are the claims carried in admin access tokens.
type JWTClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// NewTokenService creates a token service signing with secretKey.
func NewTokenService(secretKey string, accessTokenDuration time.Duration) *TokenService {
	if accessTokenDuration <= 0 {
		accessTokenDuration = time.Hour
	}
	return &TokenService{
		secretKey:           []byte(secretKey),
		AccessTokenDuration: accessTokenDuration,
	}
}

// CreateAccessToken issues a signed token for the user.
func (ts *TokenService) CreateAccessToken(user *User) (string, time.Time, error) {
	expiresAt := time.Now().Add(ts.AccessTokenDuration)
	claims := JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "keygate",
			Subject:   fmt.Sprintf("%d", user.ID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses and verifies a token, returning the actor
// context it encodes.
func (ts *TokenService) ValidateAccessToken(tokenString string) (*AuthContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return ts.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid access token")
	}
	if !ValidRole(claims.Role) {
		return nil, fmt.Errorf("unknown role %q in token", claims.Role)
	}

	return &AuthContext{
		UserID: claims.UserID,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   claims.Role,
	}, nil
}
