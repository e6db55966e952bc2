package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// ShareRepository handles share-related database operations
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare inserts a share and fills in its ID and creation time
func (r *ShareRepository) CreateShare(ctx context.Context, share *Share) error {
	query := `
		INSERT INTO miner_shares (job_id, worker, nonce, hash, status, reason, pool, wallet, algorithm, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		share.JobID, share.Worker, share.Nonce, share.Hash, share.Status,
		share.Reason, share.Pool, share.Wallet, share.Algorithm, share.FoundAt,
	).Scan(&share.ID, &share.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}

	return nil
}

// RecentShares returns the newest shares first
func (r *ShareRepository) RecentShares(ctx context.Context, limit, offset int) ([]*Share, error) {
	query := `
		SELECT id, job_id, worker, nonce, hash, status, reason, pool, wallet, algorithm, found_at, created_at
		FROM miner_shares
		ORDER BY found_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shares []*Share
	for rows.Next() {
		share := &Share{}
		err := rows.Scan(
			&share.ID, &share.JobID, &share.Worker, &share.Nonce, &share.Hash,
			&share.Status, &share.Reason, &share.Pool, &share.Wallet, &share.Algorithm,
			&share.FoundAt, &share.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, share)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}

	return shares, nil
}

// CountByStatus returns share totals grouped by status
func (r *ShareRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM miner_shares GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan share count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
