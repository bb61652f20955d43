package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestListener_HandlesInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	l := New[int]("test", 16, func(v int) error {
		mu.Lock()
		got = append(got, v)
		n := len(got)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
		if v == 2 {
			return errors.New("boom") // ошибка не должна останавливать цикл
		}
		return nil
	})
	l.Start(context.Background())
	defer l.Stop()

	for i := 1; i <= 5; i++ {
		if !l.Submit(i) {
			t.Fatalf("Submit(%d) rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not see all items")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestListener_SubmitDropsWhenFull(t *testing.T) {
	l := New[int]("full", 1, func(int) error { return nil })
	// не запускаем: очередь никто не читает
	if !l.Submit(1) {
		t.Fatal("first Submit rejected")
	}
	if l.Submit(2) {
		t.Fatal("Submit into full queue accepted")
	}
}

func TestListener_StopRunsStopHandlerOnce(t *testing.T) {
	calls := 0
	l := New[int]("stop", 1, func(int) error { return nil }, func() { calls++ })
	l.Start(context.Background())
	l.Stop()
	l.Stop()
	if calls != 1 {
		t.Fatalf("stop handler called %d times", calls)
	}
}
