// Package coord is the coordination service contract used as the admin
// message transport and for liveness detection, with a ZooKeeper adapter
// and an in-process implementation.
package coord

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrNoNode        = errors.New("coord: node does not exist")
	ErrNodeExists    = errors.New("coord: node already exists")
	ErrBadVersion    = errors.New("coord: version mismatch")
	ErrNotEmpty      = errors.New("coord: node has children")
	ErrSessionClosed = errors.New("coord: session closed")
)

const (
	FlagEphemeral = 1 << iota
	FlagSequence
)

// AnyVersion disables the optimistic version check of Set and Delete.
const AnyVersion int32 = -1

type EventType int

const (
	EventNodeCreated EventType = iota + 1
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
	// EventSessionLost is delivered to pending watches when the session ends.
	EventSessionLost
)

func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "NodeCreated"
	case EventNodeDeleted:
		return "NodeDeleted"
	case EventNodeDataChanged:
		return "NodeDataChanged"
	case EventNodeChildrenChanged:
		return "NodeChildrenChanged"
	case EventSessionLost:
		return "SessionLost"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is delivered at most once per armed watch; the channel is closed after.
type Event struct {
	Type EventType
	Path string
	Err  error
}

// Coordinator is a consistent, notify-capable hierarchical store.
type Coordinator interface {
	Create(path string, data []byte, flags int) (string, error)
	Exists(path string) (bool, int32, error)
	ExistsW(path string) (bool, <-chan Event, error)
	Get(path string) ([]byte, int32, error)
	GetW(path string) ([]byte, int32, <-chan Event, error)
	Set(path string, data []byte, version int32) (int32, error)
	Delete(path string, version int32) error
	Children(path string) ([]string, error)
	ChildrenW(path string) ([]string, <-chan Event, error)
	Close() error
}

// EnsurePath creates every missing persistent component of p.
func EnsurePath(c Coordinator, p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := c.Exists(cur)
		if err != nil {
			return fmt.Errorf("exists %s: %w", cur, err)
		}
		if exists {
			continue
		}
		if _, err := c.Create(cur, nil, 0); err != nil && !errors.Is(err, ErrNodeExists) {
			return fmt.Errorf("create %s: %w", cur, err)
		}
	}
	return nil
}

// DeleteTree removes p and everything below it. A missing p is not an error.
func DeleteTree(c Coordinator, p string) error {
	children, err := c.Children(p)
	if errors.Is(err, ErrNoNode) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := DeleteTree(c, path.Join(p, child)); err != nil {
			return err
		}
	}
	if err := c.Delete(p, AnyVersion); err != nil && !errors.Is(err, ErrNoNode) {
		return err
	}
	return nil
}

// WaitExists polls until p exists, the context ends or timeout elapses.
func WaitExists(ctx context.Context, c Coordinator, p string, interval, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		exists, _, err := c.Exists(p)
		if err != nil {
			return fmt.Errorf("exists %s: %w", p, err)
		}
		if exists {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", p, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Paths is the znode layout shared by the controller and the nodes.
type Paths struct {
	Root string
}

func (p Paths) LiveDir() string { return path.Join(p.Root, "live") }
func (p Paths) Live(name string) string { return path.Join(p.Root, "live", name) }
func (p Paths) InboxDir() string { return path.Join(p.Root, "inbox") }
func (p Paths) Inbox(name string) string { return path.Join(p.Root, "inbox", name) }
func (p Paths) MessagePrefix(name string) string {
	return path.Join(p.Root, "inbox", name, "msg-")
}
