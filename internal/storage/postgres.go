package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"consentgate/internal/consent"
)

var pgOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "consentgate_postgres_store_op_duration_ms",
	Help:    "Latency of Postgres consent store operations in milliseconds",
	Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
}, []string{"op"})

// PostgresStore is the durable adapter: consent records survive restarts and
// the audit surface (lookups by consent ID or user, stats, exports) lives
// here. Tokens are stored hashed so a database dump cannot be replayed as
// cookies.
type PostgresStore struct {
	db     *sql.DB
	secret []byte
	clock  func() time.Time
}

// PostgresStoreOption configures a PostgresStore instance.
type PostgresStoreOption func(*PostgresStore)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock func() time.Time) PostgresStoreOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewPostgresStore(db *sql.DB, secret string, opts ...PostgresStoreOption) *PostgresStore {
	s := &PostgresStore{db: db, secret: []byte(secret), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema creates the consent table and its lookup indexes. Safe to call
// on every boot.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS consent_records (
    token_hash      TEXT PRIMARY KEY,
    consent_id      TEXT NOT NULL,
    user_identifier TEXT,
    accepted        TEXT[] NOT NULL,
    rejected        TEXT[] NOT NULL,
    method          TEXT NOT NULL,
    payload         JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consent_records_consent_id ON consent_records (consent_id);
CREATE INDEX IF NOT EXISTS idx_consent_records_user ON consent_records (user_identifier) WHERE user_identifier IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_consent_records_created ON consent_records (created_at);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure consent schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, record *consent.Record) (string, error) {
	defer observePg("store")()

	token, err := s.GenerateToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	now := s.clock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent_records
			(token_hash, consent_id, user_identifier, accepted, rejected, method, payload, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $8)`,
		HashToken(s.secret, token),
		record.ConsentID,
		record.UserIdentifier,
		pq.Array(record.Accepted),
		pq.Array(record.Rejected),
		string(record.Method),
		payload,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("insert consent record: %w", err)
	}
	return token, nil
}

// Retrieve rejects tokens failing the HMAC check before querying, and maps
// unknown tokens to (nil, nil).
func (s *PostgresStore) Retrieve(ctx context.Context, token string) (*consent.Record, error) {
	defer observePg("retrieve")()

	if !VerifyToken(s.secret, token) {
		return nil, nil
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM consent_records WHERE token_hash = $1`,
		HashToken(s.secret, token),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select consent record: %w", err)
	}
	var record consent.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, nil
	}
	return &record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, token string) (bool, error) {
	defer observePg("delete")()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM consent_records WHERE token_hash = $1`,
		HashToken(s.secret, token),
	)
	if err != nil {
		return false, fmt.Errorf("delete consent record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Exists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_records WHERE token_hash = $1)`,
		HashToken(s.secret, token),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check consent record: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Update(ctx context.Context, token string, record *consent.Record) (bool, error) {
	defer observePg("update")()

	payload, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_records
		SET consent_id = $2, user_identifier = NULLIF($3, ''), accepted = $4,
		    rejected = $5, method = $6, payload = $7, updated_at = $8
		WHERE token_hash = $1`,
		HashToken(s.secret, token),
		record.ConsentID,
		record.UserIdentifier,
		pq.Array(record.Accepted),
		pq.Array(record.Rejected),
		string(record.Method),
		payload,
		s.clock(),
	)
	if err != nil {
		return false, fmt.Errorf("update consent record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) GenerateToken() (string, error) {
	return MintToken(s.secret, DefaultTokenLength)
}

// FindByConsentID returns the current record for a consent ID, or nil when
// none exists.
func (s *PostgresStore) FindByConsentID(ctx context.Context, consentID string) (*consent.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM consent_records
		WHERE consent_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, consentID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find consent by id: %w", err)
	}
	var record consent.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode consent payload: %w", err)
	}
	return &record, nil
}

// FindByUserIdentifier returns all records tied to a user, newest first.
func (s *PostgresStore) FindByUserIdentifier(ctx context.Context, user string) ([]*consent.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM consent_records
		WHERE user_identifier = $1
		ORDER BY updated_at DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("find consent by user: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// List pages through records newest first for the admin surface.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*consent.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM consent_records
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Count returns the total number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consent_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count consent records: %w", err)
	}
	return n, nil
}

// Stats summarizes the stored records for reporting.
type Stats struct {
	Total    int64            `json:"total"`
	ByMethod map[string]int64 `json:"by_method"`
	ByDay    map[string]int64 `json:"by_day"`
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByMethod: map[string]int64{}, ByDay: map[string]int64{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consent_records`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("consent stats total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT method, COUNT(*) FROM consent_records GROUP BY method`)
	if err != nil {
		return nil, fmt.Errorf("consent stats by method: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var n int64
		if err := rows.Scan(&method, &n); err != nil {
			return nil, err
		}
		stats.ByMethod[method] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dayRows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at, 'YYYY-MM-DD'), COUNT(*)
		FROM consent_records
		WHERE created_at > $1
		GROUP BY 1
		ORDER BY 1`, s.clock().AddDate(0, 0, -30))
	if err != nil {
		return nil, fmt.Errorf("consent stats by day: %w", err)
	}
	defer dayRows.Close()
	for dayRows.Next() {
		var day string
		var n int64
		if err := dayRows.Scan(&day, &n); err != nil {
			return nil, err
		}
		stats.ByDay[day] = n
	}
	return stats, dayRows.Err()
}

// Cleanup removes records older than maxAge and returns the number removed.
func (s *PostgresStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM consent_records WHERE created_at < $1`,
		s.clock().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup consent records: %w", err)
	}
	return res.RowsAffected()
}

// ExportAll streams every stored record, oldest first, for data portability
// requests.
func (s *PostgresStore) ExportAll(ctx context.Context) ([]*consent.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM consent_records ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("export consent records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*consent.Record, error) {
	var records []*consent.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record consent.Record
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode consent payload: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

func observePg(op string) func() {
	start := time.Now()
	return func() {
		pgOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}
}
