package messaging

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
	"github.com/bardlex/gominer/pkg/log"
)

// StatsPublisher binds a PUB socket and sends one [topic, json] frame pair
// per stats snapshot. It implements report.StatsSink.
type StatsPublisher struct {
	mu       sync.Mutex
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
	now      func() time.Time
}

// NewStatsPublisher binds endpoint, e.g. "tcp://127.0.0.1:28400".
func NewStatsPublisher(endpoint string, logger *log.Logger) (*StatsPublisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ linger: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to bind ZMQ endpoint %s: %w", endpoint, err)
	}

	logger = logger.WithComponent("zmq")
	logger.Info("bound ZMQ stats publisher", "endpoint", endpoint)
	return &StatsPublisher{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Endpoint returns the bound endpoint. For wildcard TCP ports this is the
// resolved address.
func (p *StatsPublisher) Endpoint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep, err := p.socket.GetLastEndpoint(); err == nil && ep != "" {
		return ep
	}
	return p.endpoint
}

// WriteStats implements report.StatsSink. PUB sockets drop frames when no
// subscriber is connected, so this never blocks.
func (p *StatsPublisher) WriteStats(_ context.Context, stats miner.Stats) error {
	data, err := json.Marshal(report.NewSnapshot(stats, p.now()))
	if err != nil {
		return fmt.Errorf("failed to encode stats snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return fmt.Errorf("stats publisher closed")
	}
	if _, err := p.socket.SendMessageDontwait(ZMQTopicStats, data); err != nil {
		return fmt.Errorf("failed to publish stats: %w", err)
	}
	return nil
}

// Close closes the socket
func (p *StatsPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}

// StatsSubscriber receives snapshots from a StatsPublisher.
type StatsSubscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewStatsSubscriber connects a SUB socket to endpoint and subscribes to
// stats frames.
func NewStatsSubscriber(endpoint string, logger *log.Logger) (*StatsSubscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.SetRcvtimeo(100 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ receive timeout: %w", err)
	}
	if err := socket.SetSubscribe(ZMQTopicStats); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", ZMQTopicStats, err)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", endpoint, err)
	}

	return &StatsSubscriber{socket: socket, endpoint: endpoint, logger: logger.WithComponent("zmq")}, nil
}

// Listen delivers snapshots to handler until ctx is done. Malformed frames
// are logged and skipped.
func (s *StatsSubscriber) Listen(ctx context.Context, handler func(report.Snapshot) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			s.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			s.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		var snap report.Snapshot
		if err := json.Unmarshal(msg[1], &snap); err != nil {
			s.logger.Warn("received malformed stats frame", "error", err)
			continue
		}

		if err := handler(snap); err != nil {
			s.logger.Error("failed to handle stats frame", "error", err)
		}
	}
}

// Close closes the socket
func (s *StatsSubscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}
