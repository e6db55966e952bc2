package messaging

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
	"github.com/bardlex/gominer/pkg/errors"
)

// ShareEvent encodes a share record as a protobuf Struct so consumers need
// no generated code.
func ShareEvent(rec report.ShareRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"job_id":    rec.JobID,
		"worker":    rec.Worker,
		"nonce":     rec.Nonce,
		"hash":      rec.Hash,
		"status":    string(rec.Status),
		"reason":    rec.Reason,
		"pool":      rec.Pool,
		"wallet":    rec.Wallet,
		"algorithm": rec.Algorithm,
		"found_at":  rec.FoundAt.UTC().Format(time.RFC3339Nano),
	})
}

// KafkaSink publishes share events and stats snapshots. It implements
// report.ShareSink and report.StatsSink.
type KafkaSink struct {
	client     *KafkaClient
	shareTopic string
	statsTopic string
	key        string
}

// NewKafkaSink publishes to the given topics, keyed by the miner identity
// so one miner's events stay ordered within a partition. An empty topic
// falls back to the default.
func NewKafkaSink(client *KafkaClient, shareTopic, statsTopic, key string) *KafkaSink {
	if shareTopic == "" {
		shareTopic = TopicShares
	}
	if statsTopic == "" {
		statsTopic = TopicStats
	}
	return &KafkaSink{client: client, shareTopic: shareTopic, statsTopic: statsTopic, key: key}
}

// WriteShare implements report.ShareSink.
func (s *KafkaSink) WriteShare(ctx context.Context, rec report.ShareRecord) error {
	event, err := ShareEvent(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "share_event",
			"failed to build share event").WithContext("job_id", rec.JobID)
	}
	return s.client.PublishProto(ctx, s.shareTopic, s.key, event)
}

// WriteStats implements report.StatsSink.
func (s *KafkaSink) WriteStats(ctx context.Context, stats miner.Stats) error {
	data, err := json.Marshal(report.NewSnapshot(stats, time.Now()))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "stats_event",
			"failed to encode stats snapshot")
	}
	return s.client.PublishJSON(ctx, s.statsTopic, s.key, data)
}
