package storage

import (
	"context"

	"consentgate/internal/consent"

	dErrors "consentgate/pkg/domain-errors"
)

// CallbackStore bridges to an operator-supplied persistence layer through
// plain functions, for embedders whose storage does not fit any shipped
// adapter. Only StoreFunc and RetrieveFunc are mandatory; the rest derive
// sensible behavior when left nil.
type CallbackStore struct {
	StoreFunc    func(ctx context.Context, record *consent.Record) (string, error)
	RetrieveFunc func(ctx context.Context, token string) (*consent.Record, error)
	DeleteFunc   func(ctx context.Context, token string) (bool, error)
	ExistsFunc   func(ctx context.Context, token string) (bool, error)
	UpdateFunc   func(ctx context.Context, token string, record *consent.Record) (bool, error)
	TokenFunc    func() (string, error)

	secret []byte
}

// NewCallbackStore validates the mandatory callbacks up front so a
// misconfigured embedding fails at construction, not mid-request.
func NewCallbackStore(store *CallbackStore, secret string) (*CallbackStore, error) {
	if store == nil || store.StoreFunc == nil || store.RetrieveFunc == nil {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "callback store requires StoreFunc and RetrieveFunc")
	}
	store.secret = []byte(secret)
	return store, nil
}

func (s *CallbackStore) Store(ctx context.Context, record *consent.Record) (string, error) {
	return s.StoreFunc(ctx, record)
}

func (s *CallbackStore) Retrieve(ctx context.Context, token string) (*consent.Record, error) {
	return s.RetrieveFunc(ctx, token)
}

func (s *CallbackStore) Delete(ctx context.Context, token string) (bool, error) {
	if s.DeleteFunc != nil {
		return s.DeleteFunc(ctx, token)
	}
	return true, nil
}

// Exists falls back to a Retrieve round-trip when no dedicated callback is
// provided.
func (s *CallbackStore) Exists(ctx context.Context, token string) (bool, error) {
	if s.ExistsFunc != nil {
		return s.ExistsFunc(ctx, token)
	}
	record, err := s.RetrieveFunc(ctx, token)
	return record != nil, err
}

// Update without a dedicated callback reports false, pushing callers through
// the Store path for a fresh token.
func (s *CallbackStore) Update(ctx context.Context, token string, record *consent.Record) (bool, error) {
	if s.UpdateFunc != nil {
		return s.UpdateFunc(ctx, token, record)
	}
	return false, nil
}

func (s *CallbackStore) GenerateToken() (string, error) {
	if s.TokenFunc != nil {
		return s.TokenFunc()
	}
	return MintToken(s.secret, DefaultTokenLength)
}
