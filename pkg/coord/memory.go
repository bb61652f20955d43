package coord

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

type watchKind int

const (
	watchData watchKind = iota
	watchExists
	watchChildren
)

type watch struct {
	kind  watchKind
	owner *MemorySession
	ch    chan Event
}

type znode struct {
	data     []byte
	version  int32
	seq      int64
	owner    *MemorySession // nil for persistent nodes
	children map[string]struct{}
}

// MemoryServer is an in-process coordination store with ZooKeeper-like
// semantics: one-shot watches, ephemeral nodes bound to a session and
// sequential children. Clients talk to it through sessions.
type MemoryServer struct {
	mu      sync.Mutex
	nodes   map[string]*znode
	watches map[string][]watch
}

func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		nodes:   map[string]*znode{"/": {children: map[string]struct{}{}}},
		watches: make(map[string][]watch),
	}
}

// Session opens a new client session. Closing it removes its ephemeral nodes.
func (s *MemoryServer) Session() *MemorySession {
	return &MemorySession{srv: s}
}

type MemorySession struct {
	srv    *MemoryServer
	closed bool // guarded by srv.mu
}

var _ Coordinator = (*MemorySession)(nil)

func (c *MemorySession) Create(p string, data []byte, flags int) (string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return "", ErrSessionClosed
	}

	parentPath := path.Dir(p)
	parent, ok := s.nodes[parentPath]
	if !ok {
		return "", fmt.Errorf("create %s: parent: %w", p, ErrNoNode)
	}
	if flags&FlagSequence != 0 {
		p = fmt.Sprintf("%s%010d", p, parent.seq)
	}
	parent.seq++
	if _, exists := s.nodes[p]; exists {
		return "", fmt.Errorf("create %s: %w", p, ErrNodeExists)
	}

	n := &znode{data: clone(data), children: map[string]struct{}{}}
	if flags&FlagEphemeral != 0 {
		n.owner = c
	}
	s.nodes[p] = n
	parent.children[path.Base(p)] = struct{}{}

	s.fire(p, Event{Type: EventNodeCreated, Path: p}, watchExists)
	s.fire(parentPath, Event{Type: EventNodeChildrenChanged, Path: parentPath}, watchChildren)
	return p, nil
}

func (c *MemorySession) Exists(p string) (bool, int32, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return false, 0, ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return false, 0, nil
	}
	return true, n.version, nil
}

func (c *MemorySession) ExistsW(p string) (bool, <-chan Event, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return false, nil, ErrSessionClosed
	}
	_, ok := s.nodes[p]
	return ok, s.arm(p, watchExists, c), nil
}

func (c *MemorySession) Get(p string) ([]byte, int32, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, 0, ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return nil, 0, fmt.Errorf("get %s: %w", p, ErrNoNode)
	}
	return clone(n.data), n.version, nil
}

func (c *MemorySession) GetW(p string) ([]byte, int32, <-chan Event, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, 0, nil, ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return nil, 0, nil, fmt.Errorf("get %s: %w", p, ErrNoNode)
	}
	return clone(n.data), n.version, s.arm(p, watchData, c), nil
}

func (c *MemorySession) Set(p string, data []byte, version int32) (int32, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return 0, ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return 0, fmt.Errorf("set %s: %w", p, ErrNoNode)
	}
	if version != AnyVersion && version != n.version {
		return 0, fmt.Errorf("set %s: have %d, want %d: %w", p, n.version, version, ErrBadVersion)
	}
	n.data = clone(data)
	n.version++

	ev := Event{Type: EventNodeDataChanged, Path: p}
	s.fire(p, ev, watchData)
	s.fire(p, ev, watchExists)
	return n.version, nil
}

func (c *MemorySession) Delete(p string, version int32) error {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return fmt.Errorf("delete %s: %w", p, ErrNoNode)
	}
	if version != AnyVersion && version != n.version {
		return fmt.Errorf("delete %s: %w", p, ErrBadVersion)
	}
	if len(n.children) > 0 {
		return fmt.Errorf("delete %s: %w", p, ErrNotEmpty)
	}
	s.remove(p)
	return nil
}

func (c *MemorySession) Children(p string) ([]string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return nil, fmt.Errorf("children %s: %w", p, ErrNoNode)
	}
	return sortedChildren(n), nil
}

func (c *MemorySession) ChildrenW(p string) ([]string, <-chan Event, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, nil, ErrSessionClosed
	}
	n, ok := s.nodes[p]
	if !ok {
		return nil, nil, fmt.Errorf("children %s: %w", p, ErrNoNode)
	}
	return sortedChildren(n), s.arm(p, watchChildren, c), nil
}

// Close ends the session: its ephemeral nodes vanish and its pending
// watches receive EventSessionLost.
func (c *MemorySession) Close() error {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var owned []string
	for p, n := range s.nodes {
		if n.owner == c {
			owned = append(owned, p)
		}
	}
	// сначала самые глубокие пути
	sort.Slice(owned, func(i, j int) bool { return strings.Count(owned[i], "/") > strings.Count(owned[j], "/") })
	for _, p := range owned {
		s.remove(p)
	}

	for p, ws := range s.watches {
		kept := ws[:0]
		for _, w := range ws {
			if w.owner == c {
				w.ch <- Event{Type: EventSessionLost, Path: p, Err: ErrSessionClosed}
				close(w.ch)
				continue
			}
			kept = append(kept, w)
		}
		s.watches[p] = kept
	}
	return nil
}

// remove deletes p; caller holds mu.
func (s *MemoryServer) remove(p string) {
	delete(s.nodes, p)
	parentPath := path.Dir(p)
	if parent, ok := s.nodes[parentPath]; ok {
		delete(parent.children, path.Base(p))
	}

	ev := Event{Type: EventNodeDeleted, Path: p}
	s.fire(p, ev, watchData)
	s.fire(p, ev, watchExists)
	s.fire(p, ev, watchChildren)
	s.fire(parentPath, Event{Type: EventNodeChildrenChanged, Path: parentPath}, watchChildren)
}

// arm registers a one-shot watch; caller holds mu.
func (s *MemoryServer) arm(p string, kind watchKind, owner *MemorySession) <-chan Event {
	ch := make(chan Event, 1)
	s.watches[p] = append(s.watches[p], watch{kind: kind, owner: owner, ch: ch})
	return ch
}

// fire delivers ev to every watch of kind on p; caller holds mu.
// Channels are buffered and used once, so the send never blocks.
func (s *MemoryServer) fire(p string, ev Event, kind watchKind) {
	ws := s.watches[p]
	if len(ws) == 0 {
		return
	}
	kept := ws[:0]
	for _, w := range ws {
		if w.kind != kind {
			kept = append(kept, w)
			continue
		}
		w.ch <- ev
		close(w.ch)
	}
	if len(kept) == 0 {
		delete(s.watches, p)
		return
	}
	s.watches[p] = kept
}

func sortedChildren(n *znode) []string {
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
