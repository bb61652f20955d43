package cluster

import (
	"fmt"
	"slices"
	"sync"

	"ringkv/pkg/dberrors"
)

// Member is a pool entry that can be placed on the ring.
type Member struct {
	Name string
	Host string
	Port int
}

func (m Member) ID() NodeID {
	return IDFor(m.Host, m.Port)
}

// Node is a ring position. RangeStart is always the node's own ID.
type Node struct {
	Name       string
	Host       string
	Port       int
	ID         NodeID
	RangeStart NodeID
	RangeStop  NodeID
	PrevID     NodeID
}

func (n *Node) Range() Range {
	return Range{Start: n.RangeStart, Stop: n.RangeStop}
}

// HashRing реализует consistent hashing: одна позиция на ноду, ноды
// отсортированы по ID, каждая владеет (ID, ID следующей].
type HashRing struct {
	mu      sync.RWMutex
	nodes   []*Node
	version uint64
}

func NewHashRing() *HashRing {
	return &HashRing{}
}

// Initialize rebuilds the ring from scratch. On error the previous ring is
// kept unchanged.
func (h *HashRing) Initialize(members []Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.nodes
	h.nodes = make([]*Node, 0, len(members))
	for _, m := range members {
		if _, err := h.insert(m); err != nil {
			h.nodes = prev
			return err
		}
	}
	h.version++
	return nil
}

func (h *HashRing) Insert(m Member) (*Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.insert(m)
	if err != nil {
		return nil, err
	}
	h.version++
	return n, nil
}

func (h *HashRing) insert(m Member) (*Node, error) {
	id := m.ID()
	idx, found := slices.BinarySearchFunc(h.nodes, id, func(n *Node, target NodeID) int {
		return n.ID.Compare(target)
	})
	if found {
		return nil, fmt.Errorf("insert %s (%s): %w", m.Name, id, dberrors.ErrDuplicateNodeID)
	}

	n := &Node{
		Name:       m.Name,
		Host:       m.Host,
		Port:       m.Port,
		ID:         id,
		RangeStart: id,
		RangeStop:  id,
		PrevID:     id,
	}
	h.nodes = slices.Insert(h.nodes, idx, n)
	h.relink(idx)
	return n, nil
}

func (h *HashRing) Remove(id NodeID) (*Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, found := slices.BinarySearchFunc(h.nodes, id, func(n *Node, target NodeID) int {
		return n.ID.Compare(target)
	})
	if !found {
		return nil, fmt.Errorf("remove %s: %w", id, dberrors.ErrNodeNotFound)
	}

	removed := h.nodes[idx]
	h.nodes = slices.Delete(h.nodes, idx, idx+1)
	if len(h.nodes) > 0 {
		// предшественник удалённой ноды теперь стоит на idx-1
		h.relink((idx - 1 + len(h.nodes)) % len(h.nodes))
	}
	h.version++
	return removed, nil
}

// relink fixes the pointers of the node at idx and of both its neighbours.
func (h *HashRing) relink(idx int) {
	n := len(h.nodes)
	if n == 1 {
		only := h.nodes[0]
		only.RangeStop, only.PrevID = only.ID, only.ID
		return
	}

	prev := h.nodes[(idx-1+n)%n]
	cur := h.nodes[idx]
	next := h.nodes[(idx+1)%n]

	prev.RangeStop = cur.ID
	cur.PrevID = prev.ID
	cur.RangeStop = next.ID
	next.PrevID = cur.ID
}

// OwnerOf returns the node whose range contains hash(key).
func (h *HashRing) OwnerOf(key string) (*Node, error) {
	return h.OwnerOfHash(Hash(key))
}

func (h *HashRing) OwnerOfHash(hash NodeID) (*Node, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return nil, dberrors.ErrEmptyRing
	}

	var owner *Node
	for _, n := range h.nodes {
		if !n.Range().Contains(hash) {
			continue
		}
		if owner != nil {
			return nil, fmt.Errorf("hash %s owned by %s and %s: %w", hash, owner.Name, n.Name, dberrors.ErrRingInconsistent)
		}
		owner = n
	}
	if owner == nil {
		return nil, fmt.Errorf("hash %s has no owner: %w", hash, dberrors.ErrRingInconsistent)
	}
	cp := *owner
	return &cp, nil
}

func (h *HashRing) Get(id NodeID) (*Node, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	idx, found := slices.BinarySearchFunc(h.nodes, id, func(n *Node, target NodeID) int {
		return n.ID.Compare(target)
	})
	if !found {
		return nil, false
	}
	cp := *h.nodes[idx]
	return &cp, true
}

func (h *HashRing) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Nodes returns copies of the ring positions in ascending ID order.
func (h *HashRing) Nodes() []Node {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		result = append(result, *n)
	}
	return result
}

// Snapshot returns the externally visible projection of the current version.
func (h *HashRing) Snapshot() Metadata {
	h.mu.RLock()
	defer h.mu.RUnlock()

	md := Metadata{
		Version: h.version,
		Nodes:   make([]Entry, 0, len(h.nodes)),
	}
	for _, n := range h.nodes {
		md.Nodes = append(md.Nodes, Entry{
			Name:   n.Name,
			Host:   n.Host,
			Port:   n.Port,
			PrevID: n.PrevID,
			Start:  n.RangeStart,
			Stop:   n.RangeStop,
		})
	}
	return md
}
