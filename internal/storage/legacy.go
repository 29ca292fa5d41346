package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"consentgate/internal/consent"
)

// LegacyStore keeps backwards compatibility with pre-existing deployments
// where the cookie value is base64-encoded JSON of the whole record. There is
// no real indirection and no authenticity: the token is a bijective encoding
// of the data. Use only when existing cookies must keep resolving.
type LegacyStore struct{}

func NewLegacyStore() *LegacyStore { return &LegacyStore{} }

func (s *LegacyStore) Store(_ context.Context, record *consent.Record) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Retrieve tolerates malformed base64 and JSON by returning (nil, nil);
// a legacy cookie written by anything else must read as "no consent".
func (s *LegacyStore) Retrieve(_ context.Context, token string) (*consent.Record, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, nil
	}
	var record consent.Record
	if err := json.Unmarshal(decoded, &record); err != nil {
		return nil, nil
	}
	if record.ConsentID == "" && len(record.Accepted) == 0 {
		return nil, nil
	}
	return &record, nil
}

// Delete has nothing to delete; the data lives in the cookie.
func (s *LegacyStore) Delete(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (s *LegacyStore) Exists(ctx context.Context, token string) (bool, error) {
	record, err := s.Retrieve(ctx, token)
	return record != nil, err
}

// Update reports false: the token is the data, so callers must mint a fresh
// value through Store.
func (s *LegacyStore) Update(_ context.Context, _ string, _ *consent.Record) (bool, error) {
	return false, nil
}

// GenerateToken is unused in legacy mode; the token is the encoded record.
func (s *LegacyStore) GenerateToken() (string, error) { return "", nil }
