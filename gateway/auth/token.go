package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vestchain/crypto"
)

const (
	// ScopeAdmin unlocks operator endpoints such as exports.
	ScopeAdmin = "admin"

	defaultClockSkew = 2 * time.Minute
	maxTokenTTL      = 30 * 24 * time.Hour
)

var (
	ErrSecretRequired = errors.New("auth: hmac secret not configured")
	ErrInvalidSubject = errors.New("auth: token subject is not a vst address")
)

// Claims are the JWT claims accepted by the daemon. The subject carries the
// caller's bech32 address.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Address   [20]byte
	Scopes    []string
	TokenID   string
	ExpiresAt time.Time
}

// HasScope reports whether the token granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Issuer mints HS256 tokens for operators and the CLI.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewIssuer(secret, issuer, audience string) (*Issuer, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrSecretRequired
	}
	return &Issuer{secret: []byte(trimmed), issuer: issuer, audience: audience, now: time.Now}, nil
}

// Mint signs a token for subject valid for ttl.
func (i *Issuer) Mint(subject [20]byte, ttl time.Duration, scopes ...string) (string, error) {
	if ttl <= 0 || ttl > maxTokenTTL {
		return "", fmt.Errorf("auth: ttl must be within (0, %s]", maxTokenTTL)
	}
	now := i.now().UTC()
	claims := Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   crypto.AddressFromArray(subject).String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verifier validates tokens minted by an Issuer sharing the same secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
}

func NewVerifier(secret, issuer, audience string, skew time.Duration) (*Verifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrSecretRequired
	}
	if skew <= 0 {
		skew = defaultClockSkew
	}
	return &Verifier{secret: []byte(trimmed), issuer: issuer, audience: audience, skew: skew, now: time.Now}, nil
}

// Verify parses token and resolves the calling address.
func (v *Verifier) Verify(token string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("auth: token invalid")
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubject, err)
	}
	principal := &Principal{
		Address: addr,
		Scopes:  strings.Fields(claims.Scope),
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}
