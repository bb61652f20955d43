package cluster

import (
	"fmt"
	"net"
	"strconv"

	"ringkv/pkg/dberrors"
)

// Entry is one node as seen by nodes and clients.
type Entry struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	PrevID NodeID `json:"prev_id"`
	Start  NodeID `json:"start"`
	Stop   NodeID `json:"stop"`
}

func (e Entry) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Entry) Range() Range {
	return Range{Start: e.Start, Stop: e.Stop}
}

func (e Entry) Owns(key string) bool {
	return e.Range().Contains(Hash(key))
}

// Metadata is an immutable ring snapshot. Nodes are sorted by Start.
// Never mutate a Metadata after it has been shared.
type Metadata struct {
	Version uint64  `json:"version"`
	Nodes   []Entry `json:"nodes"`
}

func (m Metadata) Len() int {
	return len(m.Nodes)
}

func (m Metadata) OwnerOf(key string) (Entry, error) {
	return m.OwnerOfHash(Hash(key))
}

// OwnerOfHash applies the same interval test as HashRing.OwnerOfHash.
func (m Metadata) OwnerOfHash(hash NodeID) (Entry, error) {
	if len(m.Nodes) == 0 {
		return Entry{}, dberrors.ErrEmptyRing
	}

	found := -1
	for i, e := range m.Nodes {
		if !e.Range().Contains(hash) {
			continue
		}
		if found >= 0 {
			return Entry{}, fmt.Errorf("hash %s owned by %s and %s: %w", hash, m.Nodes[found].Name, e.Name, dberrors.ErrRingInconsistent)
		}
		found = i
	}
	if found < 0 {
		return Entry{}, fmt.Errorf("hash %s has no owner: %w", hash, dberrors.ErrRingInconsistent)
	}
	return m.Nodes[found], nil
}

func (m Metadata) Lookup(name string) (Entry, bool) {
	idx := m.indexOf(name)
	if idx < 0 {
		return Entry{}, false
	}
	return m.Nodes[idx], true
}

// Predecessor returns the entry that precedes name on the ring.
func (m Metadata) Predecessor(name string) (Entry, bool) {
	idx := m.indexOf(name)
	if idx < 0 || len(m.Nodes) < 2 {
		return Entry{}, false
	}
	return m.Nodes[(idx-1+len(m.Nodes))%len(m.Nodes)], true
}

// Successor returns the entry that follows name on the ring.
func (m Metadata) Successor(name string) (Entry, bool) {
	idx := m.indexOf(name)
	if idx < 0 || len(m.Nodes) < 2 {
		return Entry{}, false
	}
	return m.Nodes[(idx+1)%len(m.Nodes)], true
}

func (m Metadata) indexOf(name string) int {
	for i, e := range m.Nodes {
		if e.Name == name {
			return i
		}
	}
	return -1
}
