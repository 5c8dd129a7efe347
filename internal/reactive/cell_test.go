package reactive_test

import (
	"testing"

	"github.com/AllenNeuralDynamics/voxel-client/internal/reactive"
)

func TestCellGetSet(t *testing.T) {
	c := reactive.NewCell(1)
	if c.Get() != 1 {
		t.Fatalf("Get() = %d, want 1", c.Get())
	}
	c.Set(2)
	if c.Get() != 2 {
		t.Fatalf("Get() = %d, want 2", c.Get())
	}
}

func TestCellSubscribeReceivesCurrentThenUpdates(t *testing.T) {
	c := reactive.NewCell("a")
	var seen []string
	unsub := c.Subscribe(func(v string) { seen = append(seen, v) })
	c.Set("b")
	c.Set("c")
	unsub()
	c.Set("d")

	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestCellUnsubscribeIdempotent(t *testing.T) {
	c := reactive.NewCell(0)
	unsub := c.Subscribe(func(int) {})
	unsub()
	unsub() // must not panic
}

func TestCellUpdate(t *testing.T) {
	c := reactive.NewCell(10)
	c.Update(func(v int) int { return v + 5 })
	if c.Get() != 15 {
		t.Fatalf("Get() = %d, want 15", c.Get())
	}
}
