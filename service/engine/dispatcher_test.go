package engine

import (
	"sync"
	"testing"
)

func TestDispatcherOrder(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var got []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		d.Post(func() {
			got = append(got, i)
			wg.Done()
		})
	}
	wg.Wait()
	for i, v := range got {
		if v != i {
			t.Fatalf("expected %d at position %d, got %d", i, i, v)
		}
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	d.Post(func() { panic("boom") })
	ran := false
	if !d.Call(func() { ran = true }) || !ran {
		t.Fatal("expected the dispatcher to survive a panic")
	}
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher()
	d.Close()
	d.Close()
	if d.Call(func() { t.Fatal("ran after Close") }) {
		t.Fatal("expected Call to fail after Close")
	}
	d.Post(func() { t.Fatal("ran after Close") })
}
