package oauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRefresherCallsOnInterval(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := StartRefresher(ctx, "test-provider", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	time.Sleep(110 * time.Millisecond)
	cancel()
	<-done

	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("expected at least 2 refreshes, got %d", n)
	}
}

func TestStartRefresherNotCalledImmediately(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())

	done := StartRefresher(ctx, "test-provider", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("refresh should wait one interval before first call, got %d calls", n)
	}
}

func TestStartRefresherSurvivesErrors(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := StartRefresher(ctx, "test-provider", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("token endpoint down")
	})

	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("refresher should keep running after failures, got %d calls", n)
	}
}

func TestStartRefresherBoundsEachAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gotDeadline := make(chan bool, 1)
	done := StartRefresher(ctx, "test-provider", 10*time.Millisecond, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		select {
		case gotDeadline <- ok:
		default:
		}
		return nil
	})

	select {
	case ok := <-gotDeadline:
		if !ok {
			t.Error("refresh context should carry a deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("refresh never called")
	}
	cancel()
	<-done
}
