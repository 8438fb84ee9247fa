package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labcompare/push-scheduler/internal/config"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer     = "push-scheduler"
	defaultTokenTTL = 12 * time.Hour
)

// ErrBadCredentials is returned for a wrong username or password.
var ErrBadCredentials = errors.New("invalid username or password")

// Claims is the admin session token payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthService guards the admin API with a single operator account. The
// configured password may be plaintext or a bcrypt hash; plaintext is
// hashed once at startup so every login goes through bcrypt.
type AuthService struct {
	enabled  bool
	operator string
	digest   []byte
	key      []byte
	ttl      time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

func NewAuthService(cfg config.Auth) *AuthService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	a := &AuthService{
		enabled:  cfg.Enabled,
		operator: strings.TrimSpace(cfg.Username),
		key:      []byte(cfg.JWTSecret),
		ttl:      ttl,
		now:      time.Now,
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	if cfg.Password != "" {
		a.digest = passwordDigest(cfg.Password)
	}
	return a
}

// passwordDigest returns secret unchanged when it already is a bcrypt hash.
func passwordDigest(secret string) []byte {
	if _, err := bcrypt.Cost([]byte(secret)); err == nil {
		return []byte(secret)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		// Only over-long passwords fail; such an account cannot log in.
		return nil
	}
	return digest
}

func (a *AuthService) Enabled() bool {
	return a != nil && a.enabled
}

func (a *AuthService) Username() string {
	if a == nil {
		return ""
	}
	return a.operator
}

// Authenticate checks the operator credentials and issues a session token.
// With auth disabled it returns an empty token.
func (a *AuthService) Authenticate(username, password string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	userOK := a.operator != "" &&
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(a.operator)) == 1
	passOK := a.digest != nil && bcrypt.CompareHashAndPassword(a.digest, []byte(password)) == nil
	if !userOK || !passOK {
		return "", ErrBadCredentials
	}

	issued := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: a.operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   a.operator,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(a.ttl)),
		},
	})
	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate returns the claims of a live session token. With auth disabled
// every caller is "anonymous".
func (a *AuthService) Validate(token string) (*Claims, error) {
	if !a.Enabled() {
		return &Claims{Username: "anonymous"}, nil
	}
	var claims Claims
	if _, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}); err != nil {
		return nil, err
	}
	return &claims, nil
}
