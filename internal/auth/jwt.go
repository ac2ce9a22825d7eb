package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenExpiry is used when the configured expiry is not positive.
const DefaultTokenExpiry = 60 * time.Minute

// DefaultLeeway tolerates small clock skew during token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUsername is returned when a token is requested for an empty subject.
var ErrEmptyUsername = errors.New("username cannot be empty")

// Claims carries the administrative identity encoded in a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role   string `json:"role"`
	UserID int64  `json:"uid"`
}

// TokenService issues and validates HS256 bearer tokens for administrative
// users.
type TokenService struct {
	secret []byte
	expiry time.Duration
	leeway time.Duration
}

// NewTokenService creates a TokenService signing with the given secret.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &TokenService{
		secret: []byte(secret),
		expiry: expiry,
		leeway: DefaultLeeway,
	}
}

// Issue creates a signed token carrying the user's identity and role.
func (s *TokenService) Issue(username, role string, userID int64) (string, error) {
	if username == "" {
		return "", ErrEmptyUsername
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Role:   role,
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a token, returning its claims if valid.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject any signing method other than HS256.
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithLeeway(s.leeway))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
