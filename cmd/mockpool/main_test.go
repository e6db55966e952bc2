package main

import (
	"context"
	"testing"
	"time"

	hex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/gominer/pkg/log"
)

func TestNewJob(t *testing.T) {
	a, err := newJob(1)
	if err != nil {
		t.Fatalf("newJob() error = %v", err)
	}
	b, err := newJob(2)
	if err != nil {
		t.Fatalf("newJob() error = %v", err)
	}

	if a.ID != "job-1" || b.ID != "job-2" {
		t.Errorf("ids = %q, %q", a.ID, b.ID)
	}
	header, ok := a.Header.(string)
	if !ok {
		t.Fatalf("header type = %T", a.Header)
	}
	raw, err := hex.DecodeString(header)
	if err != nil || len(raw) != 32 {
		t.Errorf("header %q is not 32 hex bytes", header)
	}
	if a.Header == b.Header {
		t.Error("consecutive jobs share a header")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, options{Listen: "127.0.0.1:0", JobInterval: 10 * time.Millisecond}, log.NewDiscard())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunListenError(t *testing.T) {
	err := run(context.Background(), options{Listen: "256.0.0.1:bad"}, log.NewDiscard())
	if err == nil {
		t.Fatal("run() should fail on an invalid listen address")
	}
}
