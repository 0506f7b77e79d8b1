package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the role claim.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// AccessToken is a signed bearer token and its expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Claims represents JWT payload. Year and Division place a student in a
// cohort; teachers leave them empty.
type Claims struct {
	Role     string `json:"role"`
	Year     int    `json:"year,omitempty"`
	Division string `json:"division,omitempty"`
	jwt.RegisteredClaims
}

// IssueOption customizes the claims of an issued token.
type IssueOption func(*Claims)

// WithCohort sets the student's year and division.
func WithCohort(year int, division string) IssueOption {
	return func(c *Claims) {
		c.Year = year
		c.Division = division
	}
}

// ValidRole reports whether role is one the API understands.
func ValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// Issue signs an access token for subject acting as role.
func Issue(subject, role, issuer, key string, ttl time.Duration, opts ...IssueOption) (AccessToken, error) {
	if subject == "" {
		return AccessToken{}, errors.New("subject required")
	}
	if !ValidRole(role) {
		return AccessToken{}, errors.New("unknown role")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	for _, opt := range opts {
		opt(&claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if claims.Subject == "" || !ValidRole(claims.Role) {
		return Claims{}, errors.New("token missing subject or role")
	}
	return *claims, nil
}
