package node

import (
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"testing"
	"time"

	"ringkv/pkg/cluster"
	"ringkv/pkg/coord"
	"ringkv/pkg/protocol"
)

var testPaths = coord.Paths{Root: "/ringkv"}

// testCluster wires in-process nodes to one coordination server and plays
// the controller role by hand.
type testCluster struct {
	t     *testing.T
	srv   *coord.MemoryServer
	admin coord.Coordinator
	ring  *cluster.HashRing
	nodes map[string]*Server
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()
	srv := coord.NewMemoryServer()
	tc := &testCluster{
		t:     t,
		srv:   srv,
		admin: srv.Session(),
		ring:  cluster.NewHashRing(),
		nodes: make(map[string]*Server),
	}
	t.Cleanup(func() {
		for _, n := range tc.nodes {
			n.Stop()
		}
		_ = tc.admin.Close()
	})
	return tc
}

// start boots a node on a loopback port and inserts it into the ring. The
// ring is not pushed to anyone.
func (tc *testCluster) start(name string) *Server {
	tc.t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tc.t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port

	s := New(Config{Name: name, Host: "127.0.0.1", Port: port, Paths: testPaths}, tc.srv.Session(), WithListener(l))
	if err := s.Start(context.Background()); err != nil {
		tc.t.Fatalf("start %s: %v", name, err)
	}
	if _, err := tc.ring.Insert(cluster.Member{Name: name, Host: "127.0.0.1", Port: port}); err != nil {
		tc.t.Fatalf("insert %s: %v", name, err)
	}
	tc.nodes[name] = s
	return s
}

func (tc *testCluster) send(name string, msg protocol.AdminMessage) {
	tc.t.Helper()
	data, err := msg.Encode()
	if err != nil {
		tc.t.Fatalf("encode: %v", err)
	}
	if _, err := tc.admin.Create(testPaths.MessagePrefix(name), data, coord.FlagSequence); err != nil {
		tc.t.Fatalf("send %s to %s: %v", msg.Type, name, err)
	}
}

// pushUpdate sends the current ring snapshot to names in order and waits
// until each node applied it.
func (tc *testCluster) pushUpdate(names ...string) cluster.Metadata {
	tc.t.Helper()
	md := tc.ring.Snapshot()
	for _, name := range names {
		tc.send(name, protocol.AdminMessage{Source: "controller", Type: protocol.AdminUpdate, Metadata: &md})
	}
	for _, name := range names {
		tc.waitApplied(name, md.Version)
	}
	return md
}

func (tc *testCluster) waitApplied(name string, version uint64) {
	tc.t.Helper()
	eventually(tc.t, fmt.Sprintf("%s applies version %d", name, version), func() bool {
		md, ok := tc.nodes[name].Metadata()
		return ok && md.Version >= version
	})
}

func (tc *testCluster) startAll(names ...string) {
	tc.t.Helper()
	for _, name := range names {
		tc.send(name, protocol.AdminMessage{Source: "controller", Type: protocol.AdminStart})
	}
	for _, name := range names {
		eventually(tc.t, name+" running", func() bool { return tc.nodes[name].State() == StateRunning })
	}
}

func (tc *testCluster) inboxEmpty(name string) bool {
	children, err := tc.admin.Children(path.Join(testPaths.InboxDir(), name))
	return err == nil && len(children) == 0
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", what)
}

// keyOwnedBy returns a key whose hash lies in name's range.
func keyOwnedBy(t *testing.T, md cluster.Metadata, name string, skip int) string {
	t.Helper()
	self, ok := md.Lookup(name)
	if !ok {
		t.Fatalf("%s not in metadata", name)
	}
	for i := 0; i < 100000; i++ {
		k := "k" + strconv.Itoa(i)
		if self.Owns(k) {
			if skip == 0 {
				return k
			}
			skip--
		}
	}
	t.Fatalf("no key owned by %s", name)
	return ""
}

type rawClient struct {
	t    *testing.T
	conn net.Conn
	r    *protocol.Reader
}

func dial(t *testing.T, s *Server) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", s.Name(), err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, conn: conn, r: protocol.NewReader(conn)}
}

func (c *rawClient) writeRaw(frame string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(frame)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *rawClient) read() protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	m, err := c.r.Read()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return m
}

func (c *rawClient) do(status protocol.Status, key, value string) protocol.Message {
	c.t.Helper()
	c.writeRaw(string(protocol.Message{Status: status, Key: key, Value: value}.Encode()))
	return c.read()
}
