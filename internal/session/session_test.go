package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/koopa0/relay/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTryAcquire_SecondCallBusy(t *testing.T) {
	r := NewRegistry(log.NewNop())

	s, err := r.TryAcquire(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("first TryAcquire() error: %v", err)
	}
	defer r.Release("owner-1")

	if s.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want %q", s.OwnerID, "owner-1")
	}

	if _, err := r.TryAcquire(context.Background(), "owner-1"); !errors.Is(err, ErrBusy) {
		t.Errorf("second TryAcquire() error = %v, want ErrBusy", err)
	}
}

func TestTryAcquire_AfterReleaseSucceeds(t *testing.T) {
	r := NewRegistry(log.NewNop())

	if _, err := r.TryAcquire(context.Background(), "owner-1"); err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}
	r.Release("owner-1")

	s, err := r.TryAcquire(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("TryAcquire() after release error: %v", err)
	}
	r.Release("owner-1")
	_ = s
}

func TestTryAcquire_DistinctOwnersIndependent(t *testing.T) {
	r := NewRegistry(log.NewNop())

	for _, owner := range []string{"a", "b", "c"} {
		if _, err := r.TryAcquire(context.Background(), owner); err != nil {
			t.Fatalf("TryAcquire(%q) error: %v", owner, err)
		}
	}
	if got := r.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}

	for _, owner := range []string{"a", "b", "c"} {
		r.Release(owner)
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len() after release = %d, want 0", got)
	}
}

func TestTryAcquire_ConcurrentSameOwner(t *testing.T) {
	r := NewRegistry(log.NewNop())

	const attempts = 64
	var wins atomic.Int32
	var wg sync.WaitGroup

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.TryAcquire(context.Background(), "owner-1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("concurrent acquisitions won = %d, want exactly 1", wins.Load())
	}
	r.Release("owner-1")
}

func TestRelease_Idempotent(t *testing.T) {
	r := NewRegistry(log.NewNop())

	if _, err := r.TryAcquire(context.Background(), "owner-1"); err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}

	// Completion and cancellation paths may both release.
	r.Release("owner-1")
	r.Release("owner-1")

	if r.Active("owner-1") {
		t.Error("owner still active after double release")
	}
}

func TestRelease_UnknownOwner(t *testing.T) {
	r := NewRegistry(log.NewNop())
	// Must not panic or corrupt state.
	r.Release("nobody")
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestRelease_CancelsContext(t *testing.T) {
	r := NewRegistry(log.NewNop())

	s, err := r.TryAcquire(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}

	r.Release("owner-1")

	select {
	case <-s.Context().Done():
	default:
		t.Error("session context should be cancelled on release")
	}
}

func TestSession_CancelIdempotent(t *testing.T) {
	r := NewRegistry(log.NewNop())

	s, err := r.TryAcquire(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}
	defer r.Release("owner-1")

	s.Cancel()
	s.Cancel()

	if !s.Done() {
		t.Error("Done() = false after Cancel()")
	}
}
