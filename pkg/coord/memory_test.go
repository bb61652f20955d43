package coord

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
		return Event{}
	}
}

func TestMemory_CreateGetSet(t *testing.T) {
	c := NewMemoryServer().Session()
	if err := EnsurePath(c, "/ringkv/inbox/a"); err != nil {
		t.Fatalf("EnsurePath: %v", err)
	}
	if err := EnsurePath(c, "/ringkv/inbox/a"); err != nil {
		t.Fatalf("EnsurePath twice: %v", err)
	}

	if _, err := c.Create("/missing/parent", nil, 0); !errors.Is(err, ErrNoNode) {
		t.Fatalf("create without parent: %v", err)
	}
	if _, err := c.Create("/ringkv/inbox", nil, 0); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	data, ver, ch, err := c.GetW("/ringkv/inbox/a")
	if err != nil || data != nil || ver != 0 {
		t.Fatalf("GetW = %q, %d, %v", data, ver, err)
	}
	newVer, err := c.Set("/ringkv/inbox/a", []byte("hello"), ver)
	if err != nil || newVer != 1 {
		t.Fatalf("Set = %d, %v", newVer, err)
	}
	if ev := recv(t, ch); ev.Type != EventNodeDataChanged {
		t.Fatalf("event = %v", ev.Type)
	}
	if _, err := c.Set("/ringkv/inbox/a", nil, 0); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("stale Set: %v", err)
	}
}

func TestMemory_SequentialChildren(t *testing.T) {
	c := NewMemoryServer().Session()
	if err := EnsurePath(c, "/q"); err != nil {
		t.Fatal(err)
	}

	_, ch, err := c.ChildrenW("/q")
	if err != nil {
		t.Fatal(err)
	}
	first, err := c.Create("/q/msg-", []byte("1"), FlagSequence)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Create("/q/msg-", []byte("2"), FlagSequence)
	if err != nil {
		t.Fatal(err)
	}
	if first >= second {
		t.Fatalf("sequence not increasing: %s, %s", first, second)
	}
	if ev := recv(t, ch); ev.Type != EventNodeChildrenChanged || ev.Path != "/q" {
		t.Fatalf("event = %+v", ev)
	}

	children, err := c.Children("/q")
	if err != nil || len(children) != 2 || "/q/"+children[0] != first {
		t.Fatalf("Children = %v, %v", children, err)
	}
	if err := c.Delete("/q", AnyVersion); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("delete non-empty: %v", err)
	}
	if err := DeleteTree(c, "/q"); err != nil {
		t.Fatalf("DeleteTree: %v", err)
	}
	if ok, _, _ := c.Exists("/q"); ok {
		t.Fatal("/q still exists")
	}
}

func TestMemory_EphemeralVanishesOnClose(t *testing.T) {
	srv := NewMemoryServer()
	owner := srv.Session()
	observer := srv.Session()

	if err := EnsurePath(observer, "/live"); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.Create("/live/a", nil, FlagEphemeral); err != nil {
		t.Fatal(err)
	}

	ok, ch, err := observer.ExistsW("/live/a")
	if err != nil || !ok {
		t.Fatalf("ExistsW = %v, %v", ok, err)
	}
	_, _, ownerWatch, err := owner.GetW("/live/a")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.Close(); err != nil {
		t.Fatal(err)
	}
	if ev := recv(t, ch); ev.Type != EventNodeDeleted || ev.Path != "/live/a" {
		t.Fatalf("observer event = %+v", ev)
	}
	if ev, ok := <-ownerWatch; ok && ev.Type != EventNodeDeleted && ev.Type != EventSessionLost {
		t.Fatalf("owner watch event = %+v", ev)
	}
	if _, _, err := owner.Exists("/live/a"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("closed session still usable: %v", err)
	}
}

func TestWaitExists(t *testing.T) {
	c := NewMemoryServer().Session()
	if err := EnsurePath(c, "/live"); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = c.Create("/live/b", nil, FlagEphemeral)
	}()
	if err := WaitExists(context.Background(), c, "/live/b", 5*time.Millisecond, time.Second); err != nil {
		t.Fatalf("WaitExists: %v", err)
	}

	err := WaitExists(context.Background(), c, "/live/never", 5*time.Millisecond, 30*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitExists timeout err=%v", err)
	}
}
