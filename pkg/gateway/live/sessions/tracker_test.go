package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{})
	u2 := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_WaitTimesOutWhileSessionsRemain(t *testing.T) {
	tr := NewTracker()
	tr.Register("s1", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("expected Wait to time out")
	}
}

func TestTracker_ReRegisterReplacesEntry(t *testing.T) {
	tr := NewTracker()
	stale := tr.Register("s1", Handle{Info: Info{Identity: "+911"}})
	tr.Register("s1", Handle{Info: Info{Identity: "+912"}})

	stale()
	list := tr.List()
	if len(list) != 1 || list[0].Identity != "+912" {
		t.Fatalf("list=%+v, want the newer entry", list)
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s2", Handle{Cancel: func() { c2.Add(1) }})
	tr.Register("s3", Handle{})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_NotifyAll_BestEffort(t *testing.T) {
	tr := NewTracker()
	var w1, w2 atomic.Int64
	tr.Register("s1", Handle{Notify: func(message string) error {
		_ = message
		w1.Add(1)
		return nil
	}})
	tr.Register("s2", Handle{Notify: func(message string) error {
		_ = message
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.NotifyAll("gateway is draining"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("notify calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestTracker_List_OldestFirstWithLiveState(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	state := "handshaking"

	tr.Register("s_new", Handle{Info: Info{Identity: "+912", StartedAt: now}})
	tr.Register("s_old", Handle{
		Info:    Info{Identity: "+911", Language: "Hindi", StartedAt: now.Add(-time.Minute)},
		StateFn: func() string { return state },
	})

	state = "active"
	list := tr.List()
	if len(list) != 2 {
		t.Fatalf("len=%d, want 2", len(list))
	}
	if list[0].ConnectionID != "s_old" || list[1].ConnectionID != "s_new" {
		t.Fatalf("order=%s,%s", list[0].ConnectionID, list[1].ConnectionID)
	}
	if list[0].State != "active" || list[0].Language != "Hindi" {
		t.Fatalf("first=%+v", list[0])
	}
}

func TestTracker_NilIsSafe(t *testing.T) {
	var tr *Tracker
	tr.Register("s1", Handle{})()
	if tr.Count() != 0 || tr.List() != nil || tr.CancelAll() != 0 || tr.NotifyAll("x") != 0 || !tr.Wait(context.Background()) {
		t.Fatalf("nil tracker should be a no-op")
	}
}
