package nav

import (
	"reflect"
	"testing"
)

func TestNextThenPrevReturnsToStart(t *testing.T) {
	t.Parallel()

	r, err := New([]string{"3429", "3498", "3416", "3420", "4036"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next, ok := r.Next("3429")
	if !ok || next != "3498" {
		t.Fatalf("Next(3429) = %q, %v", next, ok)
	}
	back, ok := r.Prev(next)
	if !ok || back != "3429" {
		t.Fatalf("Prev(%q) = %q, want 3429", next, back)
	}
}

func TestCycleWrapsAround(t *testing.T) {
	t.Parallel()

	r, _ := New([]string{"a", "b", "c"})

	if next, _ := r.Next("c"); next != "a" {
		t.Fatalf("Next(c) = %q, want a", next)
	}
	if prev, _ := r.Prev("a"); prev != "c" {
		t.Fatalf("Prev(a) = %q, want c", prev)
	}
}

func TestOutsideOrderIsNotTraversable(t *testing.T) {
	t.Parallel()

	r, _ := New([]string{"a", "b"})

	if r.Contains("x") {
		t.Fatal("x should not be in the order")
	}
	if _, ok := r.Next("x"); ok {
		t.Fatal("Next of an outside id must report ok=false")
	}
	if _, ok := r.Prev("x"); ok {
		t.Fatal("Prev of an outside id must report ok=false")
	}
	// Still warmable as itself: direct open remains playable.
	if got := r.Neighbors("x", 4); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("Neighbors(x) = %v, want [x]", got)
	}
}

func TestDuplicateRejected(t *testing.T) {
	t.Parallel()

	if _, err := New([]string{"a", "b", "a"}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestNeighborsAlternateAroundFocus(t *testing.T) {
	t.Parallel()

	r, _ := New([]string{"a", "b", "c", "d", "e", "f"})

	got := r.Neighbors("c", 5)
	want := []string{"c", "d", "b", "e", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighbors(c, 5) = %v, want %v", got, want)
	}

	// Never more entries than the ring holds.
	got = r.Neighbors("c", 50)
	if len(got) != 6 {
		t.Fatalf("Neighbors capped at ring size: got %d entries", len(got))
	}
}
