package fluxio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brickworks/fluxio"
)

// runEngine starts eng.Run on its own goroutine and returns a function
// that stops the engine and waits for Run to return.
func runEngine(t *testing.T, eng *fluxio.Engine) (stop func()) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- eng.Run() }()
	return func() {
		eng.Stop()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
		eng.Close()
	}
}

func TestEchoRoundTrip(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	ln, err := fluxio.Listen(fluxio.LoopbackEndpoint(0), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	addr := ln.LocalEndpoint()

	server := fluxio.Spawn(eng, func(ctx context.Context) (string, error) {
		conn, err := fluxio.AsyncAccept(ctx, ln)
		if err != nil {
			return "", err
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if err := fluxio.AsyncReadExact(ctx, conn, buf); err != nil {
			return "", err
		}
		if err := fluxio.AsyncWriteAll(ctx, conn, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	})

	client := fluxio.Spawn(eng, func(ctx context.Context) (string, error) {
		conn, err := fluxio.AsyncConnect(ctx, addr)
		if err != nil {
			return "", err
		}
		defer conn.Close()
		if err := fluxio.AsyncWriteAll(ctx, conn, []byte("hello")); err != nil {
			return "", err
		}
		buf := make([]byte, 5)
		if err := fluxio.AsyncReadExact(ctx, conn, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	})

	got, err := client.Await()
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("client got %q", got)
	}
	echoed, err := server.Await()
	if err != nil {
		t.Fatal(err)
	}
	if echoed != "hello" {
		t.Errorf("server echoed %q", echoed)
	}
}

func TestLargeEchoRoundTrip(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	ln, err := fluxio.Listen(fluxio.LoopbackEndpoint(0), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	addr := ln.LocalEndpoint()

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}

	server := fluxio.Spawn(eng, func(ctx context.Context) (int, error) {
		conn, err := fluxio.AsyncAccept(ctx, ln)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		buf := make([]byte, len(payload))
		if err := fluxio.AsyncReadExact(ctx, conn, buf); err != nil {
			return 0, err
		}
		if err := fluxio.AsyncWriteAll(ctx, conn, buf); err != nil {
			return 0, err
		}
		return len(buf), nil
	})

	client := fluxio.Spawn(eng, func(ctx context.Context) (bool, error) {
		conn, err := fluxio.AsyncConnect(ctx, addr)
		if err != nil {
			return false, err
		}
		defer conn.Close()
		if err := fluxio.AsyncWriteAll(ctx, conn, payload); err != nil {
			return false, err
		}
		buf := make([]byte, len(payload))
		if err := fluxio.AsyncReadExact(ctx, conn, buf); err != nil {
			return false, err
		}
		for i := range buf {
			if buf[i] != payload[i] {
				return false, nil
			}
		}
		return true, nil
	})

	ok, err := client.Await()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("echoed payload did not match")
	}
	n, err := server.Await()
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Errorf("server read %d bytes, want %d", n, len(payload))
	}
}

func TestConnectionChurn(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	ln, err := fluxio.Listen(fluxio.LoopbackEndpoint(0), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	addr := ln.LocalEndpoint()

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(1)
	fluxio.Spawn(eng, func(ctx context.Context) (int, error) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			conn, err := fluxio.AsyncAccept(ctx, ln)
			if err != nil {
				return i, err
			}
			_ = conn.Close()
		}
		return rounds, nil
	})

	for i := 0; i < rounds; i++ {
		done := make(chan error, 1)
		fluxio.Spawn(eng, func(ctx context.Context) (struct{}, error) {
			conn, err := fluxio.AsyncConnect(ctx, addr)
			if err == nil {
				_ = conn.Close()
			}
			done <- err
			return struct{}{}, err
		})
		if err := <-done; err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
	wg.Wait()
}

func TestQueuedWriterWatermarks(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	ln, err := fluxio.Listen(fluxio.LoopbackEndpoint(0), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	addr := ln.LocalEndpoint()

	serverDone := make(chan struct{})
	fluxio.Spawn(eng, func(ctx context.Context) (struct{}, error) {
		conn, err := fluxio.AsyncAccept(ctx, ln)
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()
		<-serverDone
		buf := make([]byte, 4096)
		for {
			if _, err := fluxio.AsyncReadSome(ctx, conn, buf); err != nil {
				return struct{}{}, nil
			}
		}
	})

	client := fluxio.Spawn(eng, func(ctx context.Context) (fluxio.WatermarkState, error) {
		conn, err := fluxio.AsyncConnect(ctx, addr)
		if err != nil {
			return 0, err
		}
		qw := fluxio.NewQueuedWriter(conn, 1024, 4096)
		// Write enqueues synchronously and returns the watermark state
		// immediately after, with nothing draining in the background,
		// so this observes WatermarkHigh deterministically.
		state, err := qw.Write(ctx, make([]byte, 8192))
		if err != nil {
			return 0, err
		}
		close(serverDone)
		if err := qw.GracefulShutdown(ctx, 2*time.Second, fluxio.CancelToken{}); err != nil {
			return state, err
		}
		return state, nil
	})

	state, err := client.Await()
	if err != nil {
		t.Fatal(err)
	}
	if state != fluxio.WatermarkHigh {
		t.Errorf("expected to observe WatermarkHigh after enqueuing past the high watermark, got %v", state)
	}
}

func TestSleepWithCancel(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	var src fluxio.CancelSource
	task := fluxio.Spawn(eng, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fluxio.AsyncSleep(ctx, 10*time.Second, src.Token())
	})

	time.AfterFunc(30*time.Millisecond, src.RequestStop)

	start := time.Now()
	_, err = task.Await()
	if !errors.Is(err, fluxio.ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel took too long to take effect: %v", elapsed)
	}
}

func TestReadTimeout(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	ln, err := fluxio.Listen(fluxio.LoopbackEndpoint(0), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	addr := ln.LocalEndpoint()

	// The server accepts and then deliberately sends nothing, so the
	// client's read blocks until its own timeout fires; the server task
	// still completes once the client closes its side.
	fluxio.Spawn(eng, func(ctx context.Context) (struct{}, error) {
		conn, err := fluxio.AsyncAccept(ctx, ln)
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()
		buf := make([]byte, 16)
		_, _ = fluxio.AsyncReadSome(ctx, conn, buf)
		return struct{}{}, nil
	})

	client := fluxio.Spawn(eng, func(ctx context.Context) (struct{}, error) {
		conn, err := fluxio.AsyncConnect(ctx, addr)
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()
		buf := make([]byte, 16)
		_, err = fluxio.AsyncReadSomeTimeout(ctx, conn, buf, 50*time.Millisecond, fluxio.CancelToken{})
		return struct{}{}, err
	})

	_, err = client.Await()
	if !errors.Is(err, fluxio.ErrTimedOut) {
		t.Errorf("expected ErrTimedOut, got %v", err)
	}
}

// Stop only asks the loop to exit once outstanding root tasks drain; it
// does not forcibly cancel them. A task parked in a long sleep must be
// cancelled through its own CancelToken for Run to return promptly.
func TestExternalStopResponsiveness(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run() }()

	var src fluxio.CancelSource
	fluxio.Spawn(eng, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fluxio.AsyncSleep(ctx, time.Hour, src.Token())
	})

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	src.RequestStop()
	eng.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("engine did not respond to Stop+cancel within 500ms (elapsed %v)", time.Since(start))
	}
	eng.Close()
}
