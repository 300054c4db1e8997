package fluxio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/brickworks/fluxio"
)

func TestTaskZeroValueAwaitReturnsInvalid(t *testing.T) {
	var task fluxio.Task[int]
	if task.Valid() {
		t.Error("zero Task should not be valid")
	}
	if _, err := task.Await(); !errors.Is(err, fluxio.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestSpawnAwaitReturnsValue(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	task := fluxio.Spawn(eng, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if !task.Valid() {
		t.Fatal("expected a valid task")
	}
	got, err := task.Await()
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestSpawnPropagatesError(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	wantErr := errors.New("boom")
	task := fluxio.Spawn(eng, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	_, err = task.Await()
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestSpawnRecoversPanic(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	task := fluxio.Spawn(eng, func(ctx context.Context) (int, error) {
		panic("task exploded")
	})
	if _, err := task.Await(); err == nil {
		t.Error("expected a panic in the task body to surface as an error")
	}
}

func TestTaskOnCompleteRunsOffCallerStack(t *testing.T) {
	eng, err := fluxio.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, eng)
	defer stop()

	task := fluxio.Spawn(eng, func(ctx context.Context) (int, error) {
		return 7, nil
	})

	result := make(chan int, 1)
	task.OnComplete(func(ctx context.Context, v int, err error) {
		if err == nil {
			result <- v
		} else {
			result <- -1
		}
	})
	if got := <-result; got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}
