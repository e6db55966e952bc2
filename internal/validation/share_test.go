package validation

import (
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/pkg/errors"
)

func easyJob(id string) *stratum.Job {
	job := &stratum.Job{ID: id, Timestamp: 1700000000, CleanJobs: true}
	for i := range job.Target {
		job.Target[i] = 0xFF
	}
	job.Target[0] = 0x7F
	return job
}

// findShare searches nonces until one meets the job target.
func findShare(t *testing.T, h pow.Hasher, job *stratum.Job, pass bool) miner.Share {
	t.Helper()
	for nonce := uint64(0); nonce < 10_000; nonce++ {
		input := miner.WorkInput(job, nonce)
		hash := h.Sum(input[:], 0)
		if pow.CheckDifficulty(hash[:], job.Target[:]) == pass {
			return miner.Share{
				JobID:    job.ID,
				Nonce:    nonce,
				NTime:    uint32(job.Timestamp),
				Accepted: true,
				Hash:     hash,
				FoundAt:  time.Now(),
			}
		}
	}
	t.Fatal("no nonce found")
	return miner.Share{}
}

func TestValidateShare(t *testing.T) {
	h := pow.Blake3Hasher{}
	job := easyJob("j1")
	good := findShare(t, h, job, true)
	bad := findShare(t, h, job, false)

	wrongHash := good
	wrongHash.Hash[31] ^= 0xFF

	wrongTime := good
	wrongTime.NTime++

	unknown := good
	unknown.JobID = "nope"

	empty := good
	empty.JobID = ""

	stale := good
	stale.FoundAt = time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		share   miner.Share
		wantErr bool
	}{
		{"valid", good, false},
		{"above target", bad, true},
		{"reported hash mismatch", wrongHash, true},
		{"ntime mismatch", wrongTime, true},
		{"unknown job", unknown, true},
		{"missing job id", empty, true},
		{"too old", stale, true},
	}

	v, err := NewShareValidator(h, 4, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	v.TrackJob(job)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateShare(&tt.share)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateShare() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsType(err, errors.ErrorTypeValidation) {
				t.Errorf("error type = %v, want validation", err)
			}
		})
	}
}

func TestValidateShare_JobHistory(t *testing.T) {
	h := pow.Blake3Hasher{}
	v, err := NewShareValidator(h, 2, 0)
	if err != nil {
		t.Fatal(err)
	}

	first := easyJob("first")
	share := findShare(t, h, first, true)
	v.TrackJob(first)
	v.TrackJob(easyJob("second"))

	if err := v.ValidateShare(&share); err != nil {
		t.Fatalf("share for a recent job should validate: %v", err)
	}

	v.TrackJob(easyJob("third"))
	v.TrackJob(easyJob("fourth"))
	if err := v.ValidateShare(&share); err == nil {
		t.Error("share for an evicted job should fail")
	}
}

func TestValidateShare_NilShare(t *testing.T) {
	v, _ := NewShareValidator(pow.Blake3Hasher{}, 0, 0)
	if err := v.ValidateShare(nil); err == nil {
		t.Error("nil share should fail")
	}
}
