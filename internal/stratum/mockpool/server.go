// Package mockpool is a minimal in-process Stratum pool. It answers
// subscribe and authorize, pushes jobs, and records share submissions. It
// backs client tests and the mockpool command.
package mockpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/pkg/log"
)

// Config controls pool behavior.
type Config struct {
	ExtraNonce1     string
	ExtraNonce2Size int
	Difficulty      float64
	WriteTimeout    time.Duration

	// RejectShares answers every submit with false and an error.
	RejectShares bool

	// InitialJob, when set, is sent right after a successful authorize.
	InitialJob *NotifyJob
}

// NotifyJob is the payload of a mining.notify.
type NotifyJob struct {
	ID        string
	Header    any
	Timestamp any
}

// Params returns the notify params for j.
func (j NotifyJob) Params() []any {
	return []any{j.ID, j.Header, j.Timestamp}
}

// Submission is a recorded mining.submit.
type Submission struct {
	SessionID string
	stratum.SubmitParams
}

// Server is the mock pool.
type Server struct {
	cfg    Config
	logger *log.Logger

	listener net.Listener

	mu          sync.Mutex
	sessions    map[string]*Session
	nextID      int
	submissions []Submission
	received    []string

	wg sync.WaitGroup
}

// New creates a server. Call Listen, then Serve.
func New(cfg Config, logger *log.Logger) *Server {
	if cfg.ExtraNonce1 == "" {
		cfg.ExtraNonce1 = "08000002"
	}
	if cfg.ExtraNonce2Size == 0 {
		cfg.ExtraNonce2Size = 4
	}
	if cfg.Difficulty == 0 {
		cfg.Difficulty = 1
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Server{
		cfg:      cfg,
		logger:   logger.WithComponent("mockpool"),
		sessions: make(map[string]*Session),
	}
}

// Listen binds addr, e.g. "127.0.0.1:0".
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the host and port the server is listening on.
func (s *Server) Addr() (string, int) {
	host, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Serve accepts connections until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		s.nextID++
		sess := newSession(strconv.Itoa(s.nextID), conn, s.logger, s.cfg.WriteTimeout)
		s.sessions[sess.id] = sess
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.serve(ctx, s)
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting and drops every session.
func (s *Server) Close() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.DropAll()
}

// DropAll closes every open session.
func (s *Server) DropAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Server) handleMessage(sess *Session, msg *stratum.Message) {
	s.mu.Lock()
	s.received = append(s.received, msg.Method)
	s.mu.Unlock()

	switch msg.Method {
	case stratum.MethodSubscribe:
		sess.setSubscribed()
		_ = sess.SendMessage(stratum.NewResponse(msg.ID, []any{
			[]any{
				[]any{stratum.MethodSetDifficulty, "sub" + sess.id},
				[]any{stratum.MethodNotify, "sub" + sess.id},
			},
			s.cfg.ExtraNonce1,
			s.cfg.ExtraNonce2Size,
		}))

	case stratum.MethodAuthorize:
		user := ""
		if len(msg.Params) > 0 {
			user, _ = msg.Params[0].(string)
		}
		sess.setAuthorized(user)
		_ = sess.SendMessage(stratum.NewResponse(msg.ID, true))
		_ = sess.SendMessage(stratum.NewNotification(stratum.MethodSetDifficulty, []any{s.cfg.Difficulty}))
		if s.cfg.InitialJob != nil {
			_ = sess.SendMessage(stratum.NewNotification(stratum.MethodNotify, s.cfg.InitialJob.Params()))
		}

	case stratum.MethodSubmit:
		params, err := stratum.ParseSubmitRequest(msg.Params)
		if err != nil {
			_ = sess.SendMessage(stratum.NewErrorResponse(msg.ID, stratum.ErrorOther, err.Error()))
			return
		}
		s.mu.Lock()
		s.submissions = append(s.submissions, Submission{SessionID: sess.id, SubmitParams: *params})
		s.mu.Unlock()

		if s.cfg.RejectShares {
			resp := stratum.NewErrorResponse(msg.ID, stratum.ErrorLowDifficulty, "Low difficulty share")
			resp.Result = false
			_ = sess.SendMessage(resp)
			return
		}
		_ = sess.SendMessage(stratum.NewResponse(msg.ID, true))

	default:
		_ = sess.SendMessage(stratum.NewErrorResponse(msg.ID, stratum.ErrorOther, "Method not found"))
	}
}

// Notify pushes a job to every authorized session.
func (s *Server) Notify(job NotifyJob) {
	s.Broadcast(stratum.NewNotification(stratum.MethodNotify, job.Params()))
}

// Broadcast sends msg to every session.
func (s *Server) Broadcast(msg *stratum.Message) {
	for _, sess := range s.snapshot() {
		if err := sess.SendMessage(msg); err != nil {
			s.logger.WithError(err).Warn("broadcast failed", "session_id", sess.id)
		}
	}
}

// BroadcastRaw sends raw bytes to every session.
func (s *Server) BroadcastRaw(data []byte) {
	for _, sess := range s.snapshot() {
		_ = sess.SendRaw(data)
	}
}

func (s *Server) snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// AuthorizedCount returns the number of sessions that completed authorize.
func (s *Server) AuthorizedCount() int {
	n := 0
	for _, sess := range s.snapshot() {
		if sess.IsAuthorized() {
			n++
		}
	}
	return n
}

// Submissions returns a copy of the recorded shares.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// ReceivedMethods returns the methods received so far, in order.
func (s *Server) ReceivedMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// WaitFor polls cond until it holds or timeout passes.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
