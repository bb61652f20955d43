package cluster

import (
	"encoding/json"
	"testing"
)

func TestMetadata_Neighbours(t *testing.T) {
	md := makeRing(t, 3).Snapshot()
	if md.Len() != 3 {
		t.Fatalf("Len = %d, want 3", md.Len())
	}

	for i, e := range md.Nodes {
		pred, ok := md.Predecessor(e.Name)
		if !ok || pred.Name != md.Nodes[(i+2)%3].Name {
			t.Fatalf("Predecessor(%s) = %s, %v", e.Name, pred.Name, ok)
		}
		if pred.Start != e.PrevID {
			t.Fatalf("Predecessor(%s) start %s != prev id %s", e.Name, pred.Start, e.PrevID)
		}
		succ, ok := md.Successor(e.Name)
		if !ok || succ.Start != e.Stop {
			t.Fatalf("Successor(%s) = %+v, %v; want start %s", e.Name, succ, ok, e.Stop)
		}
	}

	if _, ok := md.Predecessor("missing"); ok {
		t.Fatal("Predecessor of unknown node reported ok")
	}
	single := makeRing(t, 1).Snapshot()
	if _, ok := single.Successor("node1"); ok {
		t.Fatal("single node ring must have no successor")
	}
}

func TestMetadata_JSONRoundTrip(t *testing.T) {
	md := makeRing(t, 4).Snapshot()
	raw, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Metadata
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Version != md.Version || len(got.Nodes) != len(md.Nodes) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, md)
	}
	for i := range md.Nodes {
		if got.Nodes[i] != md.Nodes[i] {
			t.Fatalf("entry %d: %+v != %+v", i, got.Nodes[i], md.Nodes[i])
		}
	}
}

func TestParseNodeID(t *testing.T) {
	id := Hash("127.0.0.1:50000")
	parsed, err := ParseNodeID(id.String())
	if err != nil || parsed != id {
		t.Fatalf("ParseNodeID(%s) = %s, %v", id, parsed, err)
	}
	if _, err := ParseNodeID("abc"); err == nil {
		t.Fatal("short id accepted")
	}
	if _, err := ParseNodeID("zz" + id.String()[2:]); err == nil {
		t.Fatal("non-hex id accepted")
	}
}

func TestRange_Contains(t *testing.T) {
	lo := NodeID{0x10}
	mid := NodeID{0x80}
	hi := NodeID{0xf0}

	plain := Range{Start: lo, Stop: hi}
	if !plain.Contains(mid) || !plain.Contains(hi) || plain.Contains(lo) {
		t.Fatalf("plain range %s membership wrong", plain)
	}

	wrap := Range{Start: hi, Stop: lo}
	if !wrap.Contains(NodeID{0xff}) || !wrap.Contains(NodeID{0x01}) || !wrap.Contains(lo) {
		t.Fatalf("wrapping range %s misses wrapped points", wrap)
	}
	if wrap.Contains(mid) || wrap.Contains(hi) {
		t.Fatalf("wrapping range %s contains interior point", wrap)
	}

	whole := Range{Start: mid, Stop: mid}
	if !whole.Contains(lo) || !whole.Contains(mid) {
		t.Fatal("start == stop must cover the whole ring")
	}
}
