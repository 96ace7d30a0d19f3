package shared

import (
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

func TestRing(t *testing.T) {
	t.Run("fills then evicts oldest", func(t *testing.T) {
		r := NewRing[int](3)
		for i := 1; i <= 3; i++ {
			if r.Push(i) {
				t.Fatalf("push %d should not evict", i)
			}
		}
		if !r.Push(4) {
			t.Fatal("push beyond capacity should evict")
		}
		if got := r.Items(); !reflect.DeepEqual(got, []int{2, 3, 4}) {
			t.Errorf("Items() = %v", got)
		}
		if got := r.Last(2); !reflect.DeepEqual(got, []int{3, 4}) {
			t.Errorf("Last(2) = %v", got)
		}
	})

	t.Run("Last clamps to size", func(t *testing.T) {
		r := NewRing[string](5)
		r.Push("a")
		if got := r.Last(10); !reflect.DeepEqual(got, []string{"a"}) {
			t.Errorf("Last(10) = %v", got)
		}
		if got := r.Last(0); got != nil {
			t.Errorf("Last(0) = %v, want nil", got)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		r := NewRing[int](2)
		r.Push(1)
		r.Push(2)
		r.Reset()
		if r.Len() != 0 || len(r.Items()) != 0 {
			t.Error("expected empty ring after reset")
		}
	})

	t.Run("zero capacity becomes one", func(t *testing.T) {
		r := NewRing[int](0)
		r.Push(1)
		r.Push(2)
		if r.Cap() != 1 || !reflect.DeepEqual(r.Items(), []int{2}) {
			t.Errorf("unexpected ring %v cap %d", r.Items(), r.Cap())
		}
	})
}

func TestRingKeepsNewestElements(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "capacity")
		values := rapid.SliceOf(rapid.Int()).Draw(t, "values")

		r := NewRing[int](capacity)
		for _, v := range values {
			r.Push(v)
		}

		want := values
		if len(want) > capacity {
			want = want[len(want)-capacity:]
		}
		got := r.Items()
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Items()[%d] = %d, want %d", i, got[i], want[i])
			}
		}
	})
}
