package cluster

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
)

// NodeID is a 128-bit ring coordinate stored big-endian, so byte order equals
// numeric order.
type NodeID [md5.Size]byte

// Hash maps a key (or a "host:port" identity) onto the ring.
// MD5 is used purely for placement, not for security.
func Hash(s string) NodeID {
	return md5.Sum([]byte(s))
}

// IDFor returns the ring coordinate of a node listening on host:port.
func IDFor(host string, port int) NodeID {
	return Hash(net.JoinHostPort(host, strconv.Itoa(port)))
}

func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}

func (id NodeID) Less(other NodeID) bool {
	return id.Compare(other) < 0
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeID parses the 32-digit hex form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if hex.DecodedLen(len(s)) != len(id) {
		return id, fmt.Errorf("node id %q: want %d hex digits", s, 2*len(id))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("node id %q: %w", s, err)
	}
	return id, nil
}

// Range is the circular half-open interval (Start, Stop].
// Start == Stop means the whole ring (single node cluster).
type Range struct {
	Start NodeID
	Stop  NodeID
}

func (r Range) Contains(h NodeID) bool {
	switch c := r.Start.Compare(r.Stop); {
	case c == 0:
		return true
	case c < 0:
		// обычный диапазон без перехода через ноль
		return h.Compare(r.Start) > 0 && h.Compare(r.Stop) <= 0
	default:
		// диапазон проходит через ноль: хвост кольца или его начало
		return h.Compare(r.Start) > 0 || h.Compare(r.Stop) <= 0
	}
}

func (r Range) String() string {
	return fmt.Sprintf("(%s, %s]", r.Start, r.Stop)
}
