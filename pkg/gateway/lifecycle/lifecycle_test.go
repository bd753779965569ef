package lifecycle

import "testing"

func TestLifecycle_DrainTransitions(t *testing.T) {
	var l Lifecycle
	if l.IsDraining() || !l.DrainingSince().IsZero() {
		t.Fatalf("zero value should not be draining")
	}

	l.SetDraining(true)
	first := l.DrainingSince()
	if !l.IsDraining() || first.IsZero() {
		t.Fatalf("expected draining with a start time")
	}

	l.SetDraining(true)
	if got := l.DrainingSince(); !got.Equal(first) {
		t.Fatalf("repeated SetDraining moved start time: %v -> %v", first, got)
	}

	l.SetDraining(false)
	if l.IsDraining() || !l.DrainingSince().IsZero() {
		t.Fatalf("expected drain to be cleared")
	}
}

func TestLifecycle_NilIsSafe(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() {
		t.Fatalf("nil lifecycle reports draining")
	}
}
