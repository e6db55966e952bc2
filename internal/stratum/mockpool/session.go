package mockpool

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/pkg/log"
)

// Session is one miner connection to the mock pool.
type Session struct {
	id     string
	conn   net.Conn
	logger *log.Logger

	subscribed bool
	authorized bool
	username   string

	writeTimeout time.Duration

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func newSession(id string, conn net.Conn, logger *log.Logger, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		logger:       logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, 100),
		done:         make(chan struct{}),
	}
}

type messageHandler interface {
	handleMessage(s *Session, msg *stratum.Message)
}

// serve runs the write loop in the background and the read loop inline.
func (s *Session) serve(ctx context.Context, h messageHandler) {
	s.logger.LogConnection("connected", s.conn.RemoteAddr().String())
	go s.writeLoop(ctx)
	s.readLoop(ctx, h)
}

func (s *Session) readLoop(ctx context.Context, h messageHandler) {
	defer s.Close()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), 64*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.logger.LogStratumMessage("received", string(line))

		msg, err := stratum.ParseMessage(line)
		if err != nil {
			s.logger.WithError(err).Warn("failed to parse message")
			_ = s.SendMessage(stratum.NewErrorResponse(nil, stratum.ErrorParseError, "Parse error"))
			continue
		}
		h.handleMessage(s, msg)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.WithError(err).Debug("failed to close connection")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
			if _, err := s.conn.Write(data); err != nil {
				s.logger.WithError(err).Warn("failed to write message")
				return
			}
			s.logger.LogStratumMessage("sent", string(data))
		}
	}
}

// SendMessage queues a newline terminated message.
func (s *Session) SendMessage(msg *stratum.Message) error {
	data, err := stratum.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.SendRaw(append(data, '\n'))
}

// SendRaw queues bytes exactly as given, without adding a delimiter.
func (s *Session) SendRaw(data []byte) error {
	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		return fmt.Errorf("outbound channel full")
	}
}

// Close ends the session. The connection is closed by the write loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.logger.LogConnection("disconnected", s.conn.RemoteAddr().String())
	})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Username returns the authorized username.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// IsAuthorized reports whether mining.authorize succeeded.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

func (s *Session) setSubscribed() {
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()
}

func (s *Session) setAuthorized(user string) {
	s.mu.Lock()
	s.authorized = true
	s.username = user
	s.mu.Unlock()
}
