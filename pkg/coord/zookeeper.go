package coord

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZooKeeper implements Coordinator on top of a ZooKeeper ensemble.
type ZooKeeper struct {
	conn *zk.Conn
	acl  []zk.ACL
}

type zkLogger struct {
	log *slog.Logger
}

func (l zkLogger) Printf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZooKeeper(servers []string, sessionTimeout time.Duration) (*ZooKeeper, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout,
		zk.WithLogger(zkLogger{log: slog.Default().With("component", "zk")}))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}

	z := &ZooKeeper{conn: conn, acl: zk.WorldACL(zk.PermAll)}
	// Ждём, пока клиент реально подключится к ZK
	if err := z.waitConnected(2 * sessionTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return z, nil
}

func (z *ZooKeeper) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := z.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (z *ZooKeeper) Create(path string, data []byte, flags int) (string, error) {
	var zflags int32
	if flags&FlagEphemeral != 0 {
		zflags |= zk.FlagEphemeral
	}
	if flags&FlagSequence != 0 {
		zflags |= zk.FlagSequence
	}
	created, err := z.conn.Create(path, data, zflags, z.acl)
	return created, mapErr(err)
}

func (z *ZooKeeper) Exists(path string) (bool, int32, error) {
	ok, stat, err := z.conn.Exists(path)
	if err != nil {
		return false, 0, mapErr(err)
	}
	if !ok {
		return false, 0, nil
	}
	return true, stat.Version, nil
}

func (z *ZooKeeper) ExistsW(path string) (bool, <-chan Event, error) {
	ok, _, ch, err := z.conn.ExistsW(path)
	if err != nil {
		return false, nil, mapErr(err)
	}
	return ok, translate(ch), nil
}

func (z *ZooKeeper) Get(path string) ([]byte, int32, error) {
	data, stat, err := z.conn.Get(path)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	return data, stat.Version, nil
}

func (z *ZooKeeper) GetW(path string) ([]byte, int32, <-chan Event, error) {
	data, stat, ch, err := z.conn.GetW(path)
	if err != nil {
		return nil, 0, nil, mapErr(err)
	}
	return data, stat.Version, translate(ch), nil
}

func (z *ZooKeeper) Set(path string, data []byte, version int32) (int32, error) {
	stat, err := z.conn.Set(path, data, version)
	if err != nil {
		return 0, mapErr(err)
	}
	return stat.Version, nil
}

func (z *ZooKeeper) Delete(path string, version int32) error {
	return mapErr(z.conn.Delete(path, version))
}

func (z *ZooKeeper) Children(path string) ([]string, error) {
	children, _, err := z.conn.Children(path)
	if err != nil {
		return nil, mapErr(err)
	}
	return children, nil
}

func (z *ZooKeeper) ChildrenW(path string) ([]string, <-chan Event, error) {
	children, _, ch, err := z.conn.ChildrenW(path)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	return children, translate(ch), nil
}

func (z *ZooKeeper) Close() error {
	z.conn.Close()
	return nil
}

func translate(in <-chan zk.Event) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		ev, ok := <-in
		if !ok {
			return
		}
		out <- toEvent(ev)
	}()
	return out
}

func toEvent(ev zk.Event) Event {
	out := Event{Path: ev.Path, Err: ev.Err}
	switch ev.Type {
	case zk.EventNodeCreated:
		out.Type = EventNodeCreated
	case zk.EventNodeDeleted:
		out.Type = EventNodeDeleted
	case zk.EventNodeDataChanged:
		out.Type = EventNodeDataChanged
	case zk.EventNodeChildrenChanged:
		out.Type = EventNodeChildrenChanged
	default:
		// EventNotWatching и сессионные события: наблюдение потеряно
		out.Type = EventSessionLost
		if out.Err == nil {
			out.Err = ErrSessionClosed
		}
	}
	return out
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return fmt.Errorf("%w: %v", ErrNoNode, err)
	case errors.Is(err, zk.ErrNodeExists):
		return fmt.Errorf("%w: %v", ErrNodeExists, err)
	case errors.Is(err, zk.ErrBadVersion):
		return fmt.Errorf("%w: %v", ErrBadVersion, err)
	case errors.Is(err, zk.ErrNotEmpty):
		return fmt.Errorf("%w: %v", ErrNotEmpty, err)
	case errors.Is(err, zk.ErrClosing), errors.Is(err, zk.ErrConnectionClosed), errors.Is(err, zk.ErrSessionExpired):
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	default:
		return err
	}
}
