package postgres

import (
	"time"

	"github.com/bardlex/gominer/internal/report"
)

// Share is a row of miner_shares
type Share struct {
	ID        int64     `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Worker    int       `db:"worker" json:"worker"`
	Nonce     string    `db:"nonce" json:"nonce"`
	Hash      string    `db:"hash" json:"hash"`
	Status    string    `db:"status" json:"status"`
	Reason    string    `db:"reason" json:"reason"`
	Pool      string    `db:"pool" json:"pool"`
	Wallet    string    `db:"wallet" json:"wallet"`
	Algorithm string    `db:"algorithm" json:"algorithm"`
	FoundAt   time.Time `db:"found_at" json:"found_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ShareFromRecord converts a report record into a row.
func ShareFromRecord(rec report.ShareRecord) *Share {
	found := rec.FoundAt
	if found.IsZero() {
		found = time.Now()
	}
	return &Share{
		JobID:     rec.JobID,
		Worker:    rec.Worker,
		Nonce:     rec.Nonce,
		Hash:      rec.Hash,
		Status:    string(rec.Status),
		Reason:    rec.Reason,
		Pool:      rec.Pool,
		Wallet:    rec.Wallet,
		Algorithm: rec.Algorithm,
		FoundAt:   found.UTC(),
	}
}
