package authx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidPassword = errors.New("invalid password")
)

// AdminRole passes every permission check.
const AdminRole = "admin"

type AuthContext struct {
	UserID      int64
	Email       string
	Role        string
	Permissions []string
}

func (a AuthContext) HasPermission(perm string) bool {
	if strings.EqualFold(a.Role, AdminRole) {
		return true
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

type contextKey struct{}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if a, ok := v.(AuthContext); ok {
			return a, true
		}
	}
	return AuthContext{}, false
}

// JWT signs and verifies the HS256 staff tokens issued at login.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewJWT(secret string, issuer string, ttl time.Duration) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: missing signing secret", ErrInvalidToken)
	}
	if ttl <= 0 {
		ttl = 10 * time.Hour
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	j := &JWT{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	opts = append(opts, jwt.WithTimeFunc(func() time.Time { return j.now() }))
	j.parser = jwt.NewParser(opts...)
	return j, nil
}

func (j *JWT) Issue(auth AuthContext) (string, time.Time, error) {
	now := j.now()
	exp := now.Add(j.ttl)
	claims := jwt.MapClaims{
		"sub":         strconv.FormatInt(auth.UserID, 10),
		"id":          auth.UserID,
		"email":       auth.Email,
		"role":        auth.Role,
		"permissions": auth.Permissions,
		"iat":         now.Unix(),
		"exp":         exp.Unix(),
	}
	if j.issuer != "" {
		claims["iss"] = j.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (j *JWT) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := j.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		return j.secret, nil
	})
	if err != nil {
		return AuthContext{}, ErrInvalidToken
	}

	id, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(claims["sub"])), 10, 64)
	if err != nil || id <= 0 {
		return AuthContext{}, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	return AuthContext{
		UserID:      id,
		Email:       email,
		Role:        role,
		Permissions: parsePermissions(claims),
	}, nil
}

func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", ErrInvalidPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hash string, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

func parsePermissions(claims map[string]any) []string {
	var perms []string
	appendPerm := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		for _, existing := range perms {
			if existing == p {
				return
			}
		}
		perms = append(perms, p)
	}

	switch t := claims["permissions"].(type) {
	case []string:
		for _, p := range t {
			appendPerm(p)
		}
	case []any:
		for _, p := range t {
			appendPerm(fmt.Sprint(p))
		}
	case string:
		for _, p := range strings.Split(t, ",") {
			appendPerm(p)
		}
	}
	return perms
}
