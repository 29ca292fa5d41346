package consent

import "context"

// Store is the pluggable persistence contract behind the opaque-token
// indirection. Tokens are the only thing placed in the persisted cookie; how a
// token maps back to a record is entirely the adapter's business.
//
// Retrieve must treat malformed, tampered, or unknown tokens as "no consent"
// and return (nil, nil) rather than an error; backend failures (connectivity,
// I/O) are real errors and must propagate. Value-carrying adapters whose token
// is the encoded record itself report Update as (false, nil) so callers mint a
// fresh token through Store.
type Store interface {
	// Store persists a record and returns the opaque token identifying it.
	Store(ctx context.Context, record *Record) (string, error)

	// Retrieve resolves a token back into a record, or (nil, nil) when the
	// token is unknown, expired, malformed, or fails authenticity checks.
	Retrieve(ctx context.Context, token string) (*Record, error)

	// Delete removes the record for token, reporting whether one existed.
	Delete(ctx context.Context, token string) (bool, error)

	// Exists reports whether the token resolves to a valid record.
	Exists(ctx context.Context, token string) (bool, error)

	// Update replaces the record behind an existing token in place.
	Update(ctx context.Context, token string, record *Record) (bool, error)

	// GenerateToken mints a new opaque token.
	GenerateToken() (string, error)
}
