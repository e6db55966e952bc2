package stratum_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/internal/stratum/mockpool"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

const waitTimeout = 3 * time.Second

func startPool(t *testing.T, cfg mockpool.Config) (*mockpool.Server, string, int) {
	t.Helper()
	srv := mockpool.New(cfg, log.NewDiscard())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})
	host, port := srv.Addr()
	return srv, host, port
}

type recorder struct {
	mu      sync.Mutex
	jobs    []*stratum.Job
	results []stratum.Result
}

func (r *recorder) job(j *stratum.Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, j)
	r.mu.Unlock()
}

func (r *recorder) result(res stratum.Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) jobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *recorder) lastJob() *stratum.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.jobs) == 0 {
		return nil
	}
	return r.jobs[len(r.jobs)-1]
}

func (r *recorder) count(kind stratum.ResultKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.results {
		if res.Kind == kind {
			n++
		}
	}
	return n
}

func newConnectedClient(t *testing.T, host string, port int, cfg stratum.ClientConfig) (*stratum.Client, *recorder) {
	t.Helper()
	c := stratum.NewClient(cfg, log.NewDiscard())
	rec := &recorder{}
	c.OnJob(rec.job)
	c.OnResult(rec.result)
	if err := c.Connect(context.Background(), host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, rec
}

// pump drives Process until cond holds.
func pump(c *stratum.Client, cond func() bool) bool {
	return mockpool.WaitFor(waitTimeout, func() bool {
		c.Process()
		return cond()
	})
}

func TestClient_SessionFlow(t *testing.T) {
	srv, host, port := startPool(t, mockpool.Config{
		InitialJob: &mockpool.NotifyJob{ID: "job1", Header: []any{1, 2, 3, 4}, Timestamp: 1700000000},
	})
	c, rec := newConnectedClient(t, host, port, stratum.ClientConfig{})

	if !c.IsConnected() {
		t.Fatal("client should be connected")
	}
	if !c.Subscribe("kuzadesign-miner/1.0") {
		t.Fatal("Subscribe() = false")
	}
	if !c.Login("wallet", "x") {
		t.Fatal("Login() = false")
	}

	if !pump(c, func() bool { return rec.jobCount() == 1 }) {
		t.Fatal("did not receive job")
	}

	job := rec.lastJob()
	if job.ID != "job1" || job.Timestamp != 1700000000 || !job.CleanJobs {
		t.Errorf("job = %+v", job)
	}
	if binary.LittleEndian.Uint64(job.Header[24:]) != 4 {
		t.Errorf("header = %x", job.Header)
	}
	if job.Target != pow.FixedTarget() {
		t.Errorf("target = %x, want fixed target", job.Target)
	}
	if pow.BytesToHex(job.ExtraNonce1) != "08000002" || job.ExtraNonce2Size != 4 {
		t.Errorf("session params not applied: %x/%d", job.ExtraNonce1, job.ExtraNonce2Size)
	}
	if rec.count(stratum.ResultSubscribed) != 1 {
		t.Error("expected one subscribe ack")
	}
	if c.Difficulty() != 1 {
		t.Errorf("Difficulty() = %v, want 1", c.Difficulty())
	}

	if !c.Submit("job1", 1700000000, 0x1234, 0) {
		t.Fatal("Submit() = false")
	}
	if !mockpool.WaitFor(waitTimeout, func() bool { return len(srv.Submissions()) == 1 }) {
		t.Fatal("pool did not record submission")
	}
	sub := srv.Submissions()[0]
	if sub.Worker != "generic" || sub.JobID != "job1" || sub.Nonce != "0000000000001234" {
		t.Errorf("submission = %+v", sub)
	}
	if !pump(c, func() bool { return rec.count(stratum.ResultAccepted) == 2 }) {
		t.Error("expected authorize and share acceptance")
	}

	methods := srv.ReceivedMethods()
	want := []string{stratum.MethodSubscribe, stratum.MethodAuthorize, stratum.MethodSubmit}
	if len(methods) != len(want) {
		t.Fatalf("methods = %v", methods)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("methods[%d] = %s, want %s", i, methods[i], want[i])
		}
	}
}

func TestClient_RejectedShare(t *testing.T) {
	_, host, port := startPool(t, mockpool.Config{RejectShares: true})
	c, rec := newConnectedClient(t, host, port, stratum.ClientConfig{})

	c.Submit("gone", 0, 1, 0)
	if !pump(c, func() bool { return rec.count(stratum.ResultRejected) == 1 }) {
		t.Fatal("expected rejection")
	}
	rec.mu.Lock()
	res := rec.results[0]
	rec.mu.Unlock()
	if res.ID != stratum.SubmitID || res.Reason != "Low difficulty share" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_FramingAcrossPartialWrites(t *testing.T) {
	srv, host, port := startPool(t, mockpool.Config{})
	c, rec := newConnectedClient(t, host, port, stratum.ClientConfig{})

	if !mockpool.WaitFor(waitTimeout, func() bool { return srv.SessionCount() == 1 }) {
		t.Fatal("pool did not see session")
	}

	srv.BroadcastRaw([]byte(`{"method":"mining.notify","params":["a","00",`))
	time.Sleep(20 * time.Millisecond)
	srv.BroadcastRaw([]byte("1]}\nnot json\n"))
	srv.BroadcastRaw([]byte(`{"method":"mining.unknown","params":[]}` + "\n"))
	srv.BroadcastRaw([]byte(`{"method":"mining.notify","params":["b","00","2"]}` + "\n" + `{"method":"mining.no`))

	if !pump(c, func() bool { return rec.jobCount() == 2 }) {
		t.Fatalf("jobs = %d, want 2", rec.jobCount())
	}
	if rec.lastJob().ID != "b" || rec.lastJob().Timestamp != 2 {
		t.Errorf("last job = %+v", rec.lastJob())
	}
	if !c.IsConnected() {
		t.Error("malformed lines must not disconnect")
	}
}

func TestClient_PoolDifficultyTarget(t *testing.T) {
	_, host, port := startPool(t, mockpool.Config{
		Difficulty: 2,
		InitialJob: &mockpool.NotifyJob{ID: "d", Header: "00", Timestamp: 1},
	})
	c, rec := newConnectedClient(t, host, port, stratum.ClientConfig{UsePoolDifficulty: true})
	c.Login("w", "x")

	if !pump(c, func() bool { return rec.jobCount() == 1 }) {
		t.Fatal("did not receive job")
	}
	if rec.lastJob().Target != pow.DifficultyToTarget(2) {
		t.Errorf("target = %x", rec.lastJob().Target)
	}
}

func TestClient_ProcessDoesNotBlock(t *testing.T) {
	_, host, port := startPool(t, mockpool.Config{})
	c, _ := newConnectedClient(t, host, port, stratum.ClientConfig{})

	start := time.Now()
	for i := 0; i < 100; i++ {
		c.Process()
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Process() blocked for %v", elapsed)
	}
}

func TestClient_RunReturnsOnPoolClose(t *testing.T) {
	srv, host, port := startPool(t, mockpool.Config{})
	c, _ := newConnectedClient(t, host, port, stratum.ClientConfig{})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	if !mockpool.WaitFor(waitTimeout, func() bool { return srv.SessionCount() == 1 }) {
		t.Fatal("pool did not see session")
	}
	srv.DropAll()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after pool closed connection")
	}
	if c.IsConnected() {
		t.Error("client should be disconnected")
	}
	if c.Submit("x", 0, 1, 0) {
		t.Error("Submit on closed client should fail")
	}
}

func TestClient_RunStopsOnContext(t *testing.T) {
	_, host, port := startPool(t, mockpool.Config{})
	c, _ := newConnectedClient(t, host, port, stratum.ClientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not stop")
	}
}

func TestClient_Disconnected(t *testing.T) {
	c := stratum.NewClient(stratum.ClientConfig{}, log.NewDiscard())

	if c.IsConnected() {
		t.Error("new client should be disconnected")
	}
	if c.Subscribe("ua") || c.Login("u", "p") || c.Submit("j", 0, 0, 0) {
		t.Error("requests on a disconnected client should fail")
	}
	c.Process()
	c.Disconnect()
	c.Disconnect()
	if err := c.Run(context.Background()); err != stratum.ErrNotConnected {
		t.Errorf("Run() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	srv := mockpool.New(mockpool.Config{}, log.NewDiscard())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	host, port := srv.Addr()
	srv.Close()

	c := stratum.NewClient(stratum.ClientConfig{DialTimeout: time.Second}, log.NewDiscard())
	err := c.Connect(context.Background(), host, port)
	if err == nil {
		c.Disconnect()
		t.Fatal("expected connection error")
	}
	if !errors.IsType(err, errors.ErrorTypeConnection) {
		t.Errorf("error type = %v, want connection", err)
	}
	if c.IsConnected() {
		t.Error("client should not be connected")
	}
}
