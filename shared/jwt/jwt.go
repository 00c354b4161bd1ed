package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
)

// TypeAccess marks session access tokens. Purpose tokens use domain.TokenPurpose values.
const TypeAccess = "access"

// Claims carries the standard claims plus the token type, so a purpose token
// can never be replayed as a session token and vice versa.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

type JwtService interface {
	NewAccessToken(userId domain.UserId) (string, domain.IssuedToken, error)
	DecodeAccessToken(jwtStr string) (*Claims, error)
	NewPurposeToken(email domain.Email, purpose domain.TokenPurpose, ttl time.Duration) (string, error)
	DecodePurposeToken(jwtStr string, purpose domain.TokenPurpose) (*Claims, error)
	ExpiredPurposeSubject(jwtStr string, purpose domain.TokenPurpose) (domain.Email, bool)
}

type Jwt struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func New(secretKey string, ttl time.Duration) *Jwt {
	return &Jwt{secretKey: []byte(secretKey), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (j *Jwt) WithClock(now func() time.Time) *Jwt {
	j.now = now
	return j
}

// NewAccessToken signs a session token for the user and returns the registry
// row describing it. The caller must persist the row before handing the token out.
func (j *Jwt) NewAccessToken(userId domain.UserId) (string, domain.IssuedToken, error) {
	issuedAt := j.now().UTC().Truncate(time.Second)
	record := domain.IssuedToken{
		Jti:       uuid.NewString(),
		UserId:    userId,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(j.ttl),
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.Jti,
			Subject:   strconv.FormatInt(userId, 10),
			IssuedAt:  jwt.NewNumericDate(record.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
		Type: TypeAccess,
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", domain.IssuedToken{}, err
	}
	return token, record, nil
}

// DecodeAccessToken verifies signature, expiry and type of a session token.
func (j *Jwt) DecodeAccessToken(jwtStr string) (*Claims, error) {
	claims, err := j.parse(jwtStr)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.ID == "" {
		return nil, internal_errors.InvalidToken("Invalid access token")
	}
	if _, err := strconv.ParseInt(claims.Subject, 10, 64); err != nil {
		return nil, internal_errors.InvalidToken("Invalid access token")
	}
	return claims, nil
}

func (j *Jwt) NewPurposeToken(email domain.Email, purpose domain.TokenPurpose, ttl time.Duration) (string, error) {
	now := j.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: purpose,
	}
	return j.sign(claims)
}

// DecodePurposeToken verifies signature and expiry and requires the type claim
// to equal purpose.
func (j *Jwt) DecodePurposeToken(jwtStr string, purpose domain.TokenPurpose) (*Claims, error) {
	claims, err := j.parse(jwtStr)
	if err != nil {
		return nil, err
	}
	if claims.Type != purpose {
		return nil, internal_errors.InvalidToken("Invalid token type")
	}
	if claims.Subject == "" {
		return nil, internal_errors.InvalidToken("Token has no subject")
	}
	return claims, nil
}

// ExpiredPurposeSubject returns the subject of a correctly signed purpose token
// whose only defect is that it expired.
func (j *Jwt) ExpiredPurposeSubject(jwtStr string, purpose domain.TokenPurpose) (domain.Email, bool) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(jwtStr, claims, j.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", false
	}
	if claims.Type != purpose || claims.Subject == "" || claims.ExpiresAt == nil {
		return "", false
	}
	if j.now().Before(claims.ExpiresAt.Time) {
		return "", false
	}
	return claims.Subject, true
}

func (j *Jwt) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", fmt.Errorf("can't sign token: %w", err)
	}
	return tokenString, nil
}

func (j *Jwt) keyFunc(token *jwt.Token) (interface{}, error) {
	// Verify signing algorithm
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return j.secretKey, nil
}

func (j *Jwt) parse(jwtStr string) (*Claims, error) {
	if jwtStr == "" {
		return nil, internal_errors.InvalidToken("Token is missing")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(jwtStr, claims, j.keyFunc,
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal_errors.InvalidToken("Token expired")
		}
		return nil, internal_errors.InvalidToken("Invalid token")
	}
	if !token.Valid {
		return nil, internal_errors.InvalidToken("Invalid token")
	}
	return claims, nil
}

// UserId extracts the numeric subject of an access token.
func (c *Claims) UserId() domain.UserId {
	id, _ := strconv.ParseInt(c.Subject, 10, 64)
	return id
}
