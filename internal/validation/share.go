// Package validation re-checks shares found by local workers before they
// are sent to the pool.
package validation

import (
	"bytes"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/pkg/errors"
)

// DefaultJobHistory is the number of recent jobs kept for lookups.
const DefaultJobHistory = 16

// ShareValidator verifies shares against the job they were found on.
type ShareValidator struct {
	hasher pow.Hasher
	maxAge time.Duration
	jobs   *lru.Cache[string, *stratum.Job]
	now    func() time.Time
}

// NewShareValidator creates a validator remembering the last history jobs.
// A zero maxAge disables the age check.
func NewShareValidator(hasher pow.Hasher, history int, maxAge time.Duration) (*ShareValidator, error) {
	if history <= 0 {
		history = DefaultJobHistory
	}
	jobs, err := lru.New[string, *stratum.Job](history)
	if err != nil {
		return nil, fmt.Errorf("create job cache: %w", err)
	}
	return &ShareValidator{
		hasher: hasher,
		maxAge: maxAge,
		jobs:   jobs,
		now:    time.Now,
	}, nil
}

// TrackJob remembers job so shares found on it can be verified.
func (v *ShareValidator) TrackJob(job *stratum.Job) {
	if job == nil {
		return
	}
	v.jobs.Add(job.ID, job.Clone())
}

// ValidateShare returns a validation error if share should not be sent.
func (v *ShareValidator) ValidateShare(share *miner.Share) error {
	if err := v.validateBasicFields(share); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_share", "basic validation failed")
	}

	job, ok := v.jobs.Get(share.JobID)
	if !ok {
		return errors.New(errors.ErrorTypeValidation, "validate_share", "unknown job").
			WithContext("job_id", share.JobID)
	}

	if err := v.validateTime(share, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_share", "time validation failed")
	}

	if err := v.validateProofOfWork(share, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_share", "proof of work validation failed").
			WithContext("job_id", share.JobID).
			WithContext("nonce", share.Nonce)
	}
	return nil
}

func (v *ShareValidator) validateBasicFields(share *miner.Share) error {
	if share == nil {
		return fmt.Errorf("share is nil")
	}
	if share.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if share.Worker < 0 {
		return fmt.Errorf("worker index is negative")
	}
	return nil
}

func (v *ShareValidator) validateTime(share *miner.Share, job *stratum.Job) error {
	if share.NTime != uint32(job.Timestamp) {
		return fmt.Errorf("ntime %d does not match job timestamp", share.NTime)
	}
	if v.maxAge > 0 && !share.FoundAt.IsZero() && v.now().Sub(share.FoundAt) > v.maxAge {
		return fmt.Errorf("share older than %s", v.maxAge)
	}
	return nil
}

func (v *ShareValidator) validateProofOfWork(share *miner.Share, job *stratum.Job) error {
	input := miner.WorkInput(job, share.Nonce)
	hash := v.hasher.Sum(input[:], 0)

	if share.Hash != ([pow.HashSize]byte{}) && !bytes.Equal(hash[:], share.Hash[:]) {
		return fmt.Errorf("reported hash %s does not match %s", pow.BytesToHex(share.Hash[:]), pow.BytesToHex(hash[:]))
	}
	if !pow.CheckDifficulty(hash[:], job.Target[:]) {
		return fmt.Errorf("hash %s does not meet target", pow.BytesToHex(hash[:]))
	}
	return nil
}
