package runctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"sfdc-subscriber/internal/logging"
)

func quietLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func TestRecvOrDone(t *testing.T) {
	in := make(chan int, 1)
	in <- 7
	v, ok := RecvOrDone(context.Background(), "test", quietLogger(), in)
	if !ok || v != 7 {
		t.Fatalf("RecvOrDone() = (%d, %v), want (7, true)", v, ok)
	}

	close(in)
	if _, ok := RecvOrDone(context.Background(), "test", quietLogger(), in); ok {
		t.Fatalf("RecvOrDone() on closed channel should report !ok")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := RecvOrDone(ctx, "test", quietLogger(), make(chan int)); ok {
		t.Fatalf("RecvOrDone() after cancel should report !ok")
	}
}

func TestSendOrDone(t *testing.T) {
	out := make(chan string, 1)
	if !SendOrDone(context.Background(), "test", quietLogger(), out, "x") {
		t.Fatalf("SendOrDone() into free buffer should succeed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SendOrDone(ctx, "test", quietLogger(), out, "y") {
		t.Fatalf("SendOrDone() into full buffer after cancel should fail")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Sleep() did not return promptly after cancel")
	}
}
