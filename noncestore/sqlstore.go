package noncestore

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLStore keeps the consumed-nonce set in a SQL table so several server
// instances can share one replay barrier. Atomicity comes from the
// primary-key constraint: the insert either lands or reports a conflict,
// there is no separate read-then-write window.
type SQLStore struct {
	db *sql.DB
}

const createUsedNoncesSQL = `
	CREATE TABLE IF NOT EXISTS used_nonces (
		nonce      TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)
`

// NewSQLStore creates the table if needed and returns the store.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(createUsedNoncesSQL); err != nil {
		return nil, fmt.Errorf("failed to create used_nonces table: %v", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Seen(ctx context.Context, nonce string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM used_nonces WHERE nonce = $1",
		normalize(nonce),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query used nonce: %v", err)
	}
	return true, nil
}

func (s *SQLStore) MarkUsed(ctx context.Context, nonce string) error {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO used_nonces (nonce) VALUES ($1) ON CONFLICT (nonce) DO NOTHING",
		normalize(nonce),
	)
	if err != nil {
		return fmt.Errorf("failed to record used nonce: %v", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %v", err)
	}
	if rows == 0 {
		return ErrNonceUsed
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
