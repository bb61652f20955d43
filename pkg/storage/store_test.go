package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

func TestMemStore_CRUD(t *testing.T) {
	s := NewMemStore()

	if _, err := s.Get("k"); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Get missing: err=%v", err)
	}

	existed, err := s.Put("k", "v1")
	if err != nil || existed {
		t.Fatalf("first Put existed=%v err=%v", existed, err)
	}
	existed, err = s.Put("k", "v2")
	if err != nil || !existed {
		t.Fatalf("second Put existed=%v err=%v", existed, err)
	}
	if v, err := s.Get("k"); err != nil || v != "v2" {
		t.Fatalf("Get = %q, %v", v, err)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("k"); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Delete missing: err=%v", err)
	}
}

func TestMemStore_ScanRangeMatchesContains(t *testing.T) {
	s := NewMemStore()
	for i := 0; i < 500; i++ {
		if _, err := s.Put(fmt.Sprintf("key-%d", i), "v"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	ranges := []cluster.Range{
		{Start: cluster.NodeID{0x20}, Stop: cluster.NodeID{0x90}}, // plain
		{Start: cluster.NodeID{0xc0}, Stop: cluster.NodeID{0x30}}, // wraps
		{Start: cluster.NodeID{0x55}, Stop: cluster.NodeID{0x55}}, // whole ring
	}
	all, _ := s.All()
	for _, r := range ranges {
		got, err := s.ScanRange(r)
		if err != nil {
			t.Fatalf("ScanRange: %v", err)
		}
		want := 0
		for k := range all {
			in := r.Contains(cluster.Hash(k))
			if in {
				want++
			}
			if _, ok := got[k]; ok != in {
				t.Fatalf("range %s: key %s present=%v, want %v", r, k, ok, in)
			}
		}
		if len(got) != want {
			t.Fatalf("range %s: %d keys, want %d", r, len(got), want)
		}
	}
}

func TestMemStore_Clear(t *testing.T) {
	s := NewMemStore()
	for i := 0; i < 10; i++ {
		_, _ = s.Put(fmt.Sprint(i), "v")
	}
	if s.Len() != 10 {
		t.Fatalf("Len = %d", s.Len())
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len after Clear = %d", s.Len())
	}
}

func TestMemStore_ConcurrentReaders(t *testing.T) {
	s := NewMemStore()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				_, _ = s.Put(key, "v")
				if _, err := s.Get(key); err != nil {
					t.Errorf("Get(%s): %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if s.Len() != 800 {
		t.Fatalf("Len = %d, want 800", s.Len())
	}
}
