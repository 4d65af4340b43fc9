package selector

import "testing"

func TestRulerOrderIsPermutation(t *testing.T) {
	for n := 0; n < 20; n++ {
		list := make([]int, n)
		for i := range list {
			list[i] = i
		}
		got := RulerOrder(list)
		if len(got) != len(list) {
			t.Fatalf("n=%d: length mismatch: got %d want %d", n, len(got), len(list))
		}
		seen := make(map[int]bool, n)
		for _, v := range got {
			seen[v] = true
		}
		for _, v := range list {
			if !seen[v] {
				t.Errorf("n=%d: missing element %d from ruler order", n, v)
			}
		}
	}
}

func TestRulerOrderPopsMidpointFirst(t *testing.T) {
	list := []int{0, 1, 2, 3, 4, 5, 6}
	got := RulerOrder(list)
	// Popping from the end first returns the midpoint of the whole list.
	if got[len(got)-1] != 3 {
		t.Errorf("expected midpoint 3 last, got %v", got)
	}
}

func TestRulerOrderEmpty(t *testing.T) {
	if got := RulerOrder([]int{}); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}
