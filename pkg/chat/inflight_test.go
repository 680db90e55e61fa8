package chat

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestInflightStartAndCancel(t *testing.T) {
	r := newInflight()

	cancelled := false
	release, ok := r.start("c1", func() { cancelled = true })
	if !ok {
		t.Fatal("start should succeed for an idle conversation")
	}
	if !r.cancel("c1") {
		t.Error("cancel should report a running exchange")
	}
	if !cancelled {
		t.Error("cancel function should have been called")
	}

	// The aborted exchange still holds the slot until it releases.
	if _, ok := r.start("c1", func() {}); ok {
		t.Error("start should fail before the aborted exchange releases")
	}
	release()
	if r.active("c1") {
		t.Error("release should clear the registration")
	}
}

func TestInflightRejectsSecondStart(t *testing.T) {
	r := newInflight()
	if _, ok := r.start("c1", func() {}); !ok {
		t.Fatal("first start failed")
	}
	if _, ok := r.start("c1", func() {}); ok {
		t.Error("second start should be rejected")
	}
	if _, ok := r.start("c2", func() {}); !ok {
		t.Error("other conversations are independent")
	}
}

func TestInflightStaleReleaseKeepsNewEntry(t *testing.T) {
	r := newInflight()
	first, _ := r.start("c1", func() {})
	first()
	second, ok := r.start("c1", func() {})
	if !ok {
		t.Fatal("restart failed")
	}

	first()
	if !r.active("c1") {
		t.Error("a stale release removed the newer registration")
	}
	second()
}

func TestInflightCancelUnknown(t *testing.T) {
	if newInflight().cancel("missing") {
		t.Error("cancel should return false for unknown id")
	}
}

func TestInflightConcurrentStart(t *testing.T) {
	r := newInflight()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.start("c1", func() {}); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("%d concurrent starts succeeded, want 1", wins.Load())
	}
}
