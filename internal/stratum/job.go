package stratum

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bardlex/gominer/internal/pow"
)

// HeaderSize is the fixed width of a job header.
const HeaderSize = 32

// SessionParams are the per-connection values a pool assigns at subscribe.
type SessionParams struct {
	ExtraNonce1     []byte
	ExtraNonce2Size int
}

// Job is a unit of work announced by mining.notify. A published Job is never
// mutated; replacing it means publishing a new one.
type Job struct {
	ID              string
	Header          [HeaderSize]byte
	Timestamp       uint64
	CleanJobs       bool
	Target          [pow.HashSize]byte
	ExtraNonce1     []byte
	ExtraNonce2Size int
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ExtraNonce1 != nil {
		c.ExtraNonce1 = append([]byte(nil), j.ExtraNonce1...)
	}
	return &c
}

// ParseNotify builds a Job from mining.notify params
// [jobId, header, timestamp, ...]. The header is a hex string or a list of
// up to four 64-bit words packed little-endian. Every notify supersedes the
// previous job, so CleanJobs is always set. The target is left to the caller.
func ParseNotify(params []any, session SessionParams) (*Job, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("notify needs at least 3 params, got %d", len(params))
	}

	id, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("job id must be string, got %T", params[0])
	}

	job := &Job{
		ID:              id,
		CleanJobs:       true,
		ExtraNonce2Size: session.ExtraNonce2Size,
	}
	if session.ExtraNonce1 != nil {
		job.ExtraNonce1 = append([]byte(nil), session.ExtraNonce1...)
	}

	switch h := params[1].(type) {
	case string:
		b, err := hexDecode(h)
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		copy(job.Header[:], b)
	case []any:
		for i := 0; i < len(h) && i < HeaderSize/8; i++ {
			word, err := parseUint64(h[i])
			if err != nil {
				return nil, fmt.Errorf("header word %d: %w", i, err)
			}
			binary.LittleEndian.PutUint64(job.Header[i*8:], word)
		}
	default:
		return nil, fmt.Errorf("header must be hex string or word list, got %T", params[1])
	}

	ts, err := parseUint64(params[2])
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	job.Timestamp = ts

	return job, nil
}

func hexDecode(s string) ([]byte, error) {
	return pow.HexToBytes(strings.TrimPrefix(s, "0x"))
}

// parseUint64 accepts JSON numbers and decimal strings.
func parseUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return floatToUint64(f)
	case float64:
		return floatToUint64(n)
	case string:
		return strconv.ParseUint(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("expected number or numeric string, got %T", v)
	}
}

func floatToUint64(f float64) (uint64, error) {
	if f < 0 || math.IsNaN(f) || f >= math.MaxUint64 {
		return 0, fmt.Errorf("value %v out of range", f)
	}
	return uint64(f), nil
}
