package stratum

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// ResultKind classifies a response from the pool.
type ResultKind int

const (
	// ResultOther is any response that is not classified below.
	ResultOther ResultKind = iota
	// ResultSubscribed is an array result acknowledging mining.subscribe.
	ResultSubscribed
	// ResultAccepted is a true result.
	ResultAccepted
	// ResultRejected is a false result or an error response.
	ResultRejected
)

func (k ResultKind) String() string {
	switch k {
	case ResultSubscribed:
		return "subscribed"
	case ResultAccepted:
		return "accepted"
	case ResultRejected:
		return "rejected"
	default:
		return "other"
	}
}

// Result is a pool response handed to the result handler. Responses are
// not correlated to requests beyond the echoed id.
type Result struct {
	Kind   ResultKind
	ID     int
	Reason string
}

// ClientConfig tunes the transport.
type ClientConfig struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// UsePoolDifficulty derives job targets from mining.set_difficulty
	// instead of the fixed target.
	UsePoolDifficulty bool
	// InboundQueue bounds the number of unread socket chunks.
	InboundQueue int
}

// DefaultClientConfig returns transport defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		InboundQueue: 64,
	}
}

// ErrNotConnected is returned by Run when there is no connection.
var ErrNotConnected = stderrors.New("stratum client not connected")

type readEvent struct {
	buf *[]byte
	n   int
	err error
}

// Client is a Stratum V1 pool client. Outbound calls are safe from any
// goroutine. Process and Run consume inbound data and must not be called
// concurrently with each other.
type Client struct {
	cfg    ClientConfig
	logger *log.Logger

	mu         sync.Mutex
	conn       net.Conn
	remote     string
	inbound    chan readEvent
	closing    chan struct{}
	readerDone chan struct{}
	connected  atomic.Bool

	writeMu sync.Mutex

	lines lineBuffer

	handlerMu sync.RWMutex
	onJob     func(*Job)
	onResult  func(Result)

	stateMu    sync.RWMutex
	session    SessionParams
	difficulty float64
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig, logger *log.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = def.InboundQueue
	}
	return &Client{
		cfg:    cfg,
		logger: logger.WithComponent("stratum"),
	}
}

// Connect dials the pool. An existing connection is closed first.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.Disconnect()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "connect", "failed to connect to pool").
			WithContext("host", host).
			WithContext("port", port)
	}

	inbound := make(chan readEvent, c.cfg.InboundQueue)
	closing := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.remote = addr
	c.inbound = inbound
	c.closing = closing
	c.readerDone = done
	c.lines.reset()
	c.connected.Store(true)
	c.mu.Unlock()

	c.stateMu.Lock()
	c.session = SessionParams{}
	c.difficulty = 0
	c.stateMu.Unlock()

	go readLoop(conn, inbound, closing, done)

	c.logger.LogConnection("connected", addr)
	return nil
}

// readLoop moves socket reads onto the inbound queue until the connection
// fails or the client starts closing.
func readLoop(conn net.Conn, out chan<- readEvent, closing <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		buf := getReadBuffer()
		n, err := conn.Read(*buf)
		if n > 0 {
			select {
			case out <- readEvent{buf: buf, n: n}:
			case <-closing:
				putReadBuffer(buf)
				return
			}
		} else {
			putReadBuffer(buf)
		}
		if err != nil {
			select {
			case out <- readEvent{err: err}:
			case <-closing:
			}
			return
		}
	}
}

// Disconnect closes the connection and waits for the reader to exit. It is
// safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, closing, done, remote := c.conn, c.closing, c.readerDone, c.remote
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected.Store(false)
	close(closing)
	c.mu.Unlock()

	if err := conn.Close(); err != nil {
		c.logger.WithError(err).Debug("close connection")
	}
	<-done
	c.logger.LogConnection("disconnected", remote)
}

// IsConnected reports whether the client holds an open connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// OnJob registers the job handler, replacing any previous one.
func (c *Client) OnJob(fn func(*Job)) {
	c.handlerMu.Lock()
	c.onJob = fn
	c.handlerMu.Unlock()
}

// OnResult registers the response handler, replacing any previous one.
func (c *Client) OnResult(fn func(Result)) {
	c.handlerMu.Lock()
	c.onResult = fn
	c.handlerMu.Unlock()
}

// Session returns the extranonce values assigned by the pool.
func (c *Client) Session() SessionParams {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session
}

// Difficulty returns the last difficulty announced by the pool, or 0.
func (c *Client) Difficulty() float64 {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.difficulty
}

// Subscribe sends mining.subscribe.
func (c *Client) Subscribe(userAgent string) bool {
	return c.send(NewSubscribeRequest(userAgent))
}

// Login sends mining.authorize.
func (c *Client) Login(user, password string) bool {
	return c.send(NewAuthorizeRequest(user, password))
}

// Submit sends mining.submit. ntime and extraNonce2 are part of the share
// but not of the wire format this pool dialect accepts.
func (c *Client) Submit(jobID string, ntime uint32, nonce, extraNonce2 uint64) bool {
	c.logger.Debug("submitting share",
		"job_id", jobID,
		"ntime", ntime,
		"nonce", nonce,
		"extranonce2", extraNonce2,
	)
	return c.send(NewSubmitRequest(jobID, pow.EncodeNonce(nonce)))
}

// send writes one newline terminated message. A failed or timed out write
// leaves the stream in an unknown state, so the connection is dropped.
func (c *Client) send(msg *Message) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	data, err := MarshalMessage(msg)
	if err != nil {
		c.logger.WithError(err).Error("failed to marshal message", "method", msg.Method)
		return false
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	err = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err == nil {
		_, err = conn.Write(data)
	}
	c.writeMu.Unlock()

	if err != nil {
		c.logger.WithError(errors.Wrap(err, errors.ErrorTypeIO, "send", "write failed")).
			Error("failed to send message", "method", msg.Method)
		c.Disconnect()
		return false
	}

	c.logger.LogStratumMessage("sent", string(data))
	return true
}

// Process performs one non-blocking step: if a socket read is pending it
// frames and dispatches every complete line in it. A closed or failed
// socket disconnects the client.
func (c *Client) Process() {
	if !c.IsConnected() {
		return
	}
	c.mu.Lock()
	in := c.inbound
	c.mu.Unlock()

	select {
	case ev := <-in:
		c.handleEvent(ev)
	default:
	}
}

// Run dispatches inbound data as it arrives until ctx ends or the
// connection closes. It returns nil on disconnect.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	in, closing := c.inbound, c.closing
	c.mu.Unlock()
	if !c.IsConnected() || in == nil {
		return ErrNotConnected
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closing:
			return nil
		case ev := <-in:
			c.handleEvent(ev)
		}
	}
}

func (c *Client) handleEvent(ev readEvent) {
	if ev.err != nil {
		if stderrors.Is(ev.err, io.EOF) {
			c.logger.Info("connection closed by pool")
		} else if c.IsConnected() {
			c.logger.WithError(ev.err).Warn("socket read failed")
		}
		c.Disconnect()
		return
	}

	err := c.lines.feed((*ev.buf)[:ev.n], c.handleLine)
	putReadBuffer(ev.buf)
	if err != nil {
		c.logger.WithError(err).Warn("discarding oversized line")
	}
}

func (c *Client) handleLine(line []byte) {
	c.logger.LogStratumMessage("received", string(line))

	msg, err := ParseMessage(line)
	if err != nil {
		c.logger.WithError(err).Warn("dropping malformed message", "line", string(line))
		return
	}

	if msg.IsNotification() {
		c.handleNotification(msg)
	}
	if msg.IsResponse() {
		c.handleResponse(msg)
	}
}

func (c *Client) handleNotification(msg *Message) {
	switch msg.Method {
	case MethodNotify:
		c.stateMu.RLock()
		session, difficulty := c.session, c.difficulty
		c.stateMu.RUnlock()

		job, err := ParseNotify(msg.Params, session)
		if err != nil {
			c.logger.WithError(err).Warn("ignoring invalid notify")
			return
		}
		job.Target = pow.FixedTarget()
		if c.cfg.UsePoolDifficulty && difficulty > 0 {
			job.Target = pow.DifficultyToTarget(difficulty)
		}
		c.logger.LogJobReceived(job.ID, job.Timestamp, job.CleanJobs)

		c.handlerMu.RLock()
		fn := c.onJob
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(job)
		}

	case MethodSetDifficulty:
		d, err := ParseSetDifficulty(msg.Params)
		if err != nil {
			c.logger.WithError(err).Warn("ignoring invalid set_difficulty")
			return
		}
		c.stateMu.Lock()
		c.difficulty = d
		c.stateMu.Unlock()
		c.logger.Info("pool difficulty set", "difficulty", d, "applied", c.cfg.UsePoolDifficulty)

	case MethodSetExtranonce:
		if len(msg.Params) < 2 {
			c.logger.Warn("ignoring invalid set_extranonce")
			return
		}
		params, ok := ParseSubscribeResult(append([]any{nil}, msg.Params...))
		if !ok {
			c.logger.Warn("ignoring invalid set_extranonce")
			return
		}
		c.stateMu.Lock()
		c.session = params
		c.stateMu.Unlock()
		c.logger.Info("extranonce updated", "extranonce2_size", params.ExtraNonce2Size)

	default:
		c.logger.Debug("ignoring unhandled method", "method", msg.Method)
	}
}

func (c *Client) handleResponse(msg *Message) {
	id, _ := msg.IntID()
	res := Result{ID: id}

	switch v := msg.Result.(type) {
	case []any:
		res.Kind = ResultSubscribed
		if params, ok := ParseSubscribeResult(v); ok {
			c.stateMu.Lock()
			c.session = params
			c.stateMu.Unlock()
		}
		c.logger.Info("subscribed to pool", "extranonce2_size", c.Session().ExtraNonce2Size)
	case bool:
		if v && msg.Error == nil {
			res.Kind = ResultAccepted
		} else {
			res.Kind = ResultRejected
		}
	}
	if msg.Error != nil && res.Kind != ResultSubscribed {
		res.Kind = ResultRejected
		res.Reason = msg.Error.Message
	}

	switch {
	case res.Kind == ResultAccepted && id == SubmitID:
		c.logger.Info("share accepted by pool")
	case res.Kind == ResultAccepted:
		c.logger.Info("request accepted by pool", "id", id)
	case res.Kind == ResultRejected:
		c.logger.Warn("request rejected by pool", "id", id, "reason", res.Reason)
	}

	c.handlerMu.RLock()
	fn := c.onResult
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(res)
	}
}
