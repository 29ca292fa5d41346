package storage

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"consentgate/internal/consent"
)

// SignedStore carries the record inside an HS256 JWT. Unlike SealedStore the
// payload is readable by the client, which some operators prefer for
// transparency, but it cannot be forged or modified.
type SignedStore struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// SignedStoreOption configures a SignedStore instance.
type SignedStoreOption func(*SignedStore)

// WithSignedClock sets the clock used for issued-at and expiry claims.
func WithSignedClock(clock func() time.Time) SignedStoreOption {
	return func(s *SignedStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSignedStore wires a JWT-carrying consent store. A zero ttl issues tokens
// without an expiry claim, matching cookie-lifetime semantics.
func NewSignedStore(secret string, ttl time.Duration, opts ...SignedStoreOption) *SignedStore {
	s := &SignedStore{secret: []byte(secret), ttl: ttl, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type consentClaims struct {
	Consent *consent.Record `json:"consent"`
	jwt.RegisteredClaims
}

func (s *SignedStore) Store(_ context.Context, record *consent.Record) (string, error) {
	now := s.clock()
	claims := consentClaims{
		Consent: record,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "consentgate",
			Subject:  record.ConsentID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Retrieve parses and verifies the token. Signature failures, expired tokens,
// and alg confusion all read as "no consent".
func (s *SignedStore) Retrieve(_ context.Context, token string) (*consent.Record, error) {
	var claims consentClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil || !parsed.Valid || claims.Consent == nil {
		return nil, nil
	}
	return claims.Consent, nil
}

func (s *SignedStore) Delete(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (s *SignedStore) Exists(ctx context.Context, token string) (bool, error) {
	record, err := s.Retrieve(ctx, token)
	return record != nil, err
}

// Update reports false so callers re-sign through Store.
func (s *SignedStore) Update(_ context.Context, _ string, _ *consent.Record) (bool, error) {
	return false, nil
}

func (s *SignedStore) GenerateToken() (string, error) {
	return MintToken(s.secret, DefaultTokenLength)
}
