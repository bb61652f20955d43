package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"ringkv/pkg/cluster"
	"ringkv/pkg/coord"
	"ringkv/pkg/listener"
	"ringkv/pkg/metrics"
	"ringkv/pkg/protocol"
	"ringkv/pkg/storage"
)

const (
	defaultReplicationQueue = 1024
	defaultPushQueue        = 1024
	watchRetryDelay         = time.Second
)

type Config struct {
	// Name is the pool slot name; it addresses the node's inbox.
	Name string
	// Host and Port are advertised to clients and define the ring position.
	Host string
	Port int
	// ListenAddr defaults to Host:Port.
	ListenAddr       string
	Paths            coord.Paths
	ReplicationQueue int
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Option func(*Server)

// WithListener makes the server accept on l instead of listening itself.
func WithListener(l net.Listener) Option {
	return func(s *Server) { s.listener = l }
}

func WithStores(primary, replica storage.Store) Option {
	return func(s *Server) {
		s.primary = primary
		s.replica = replica
	}
}

func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registry = reg }
}

// Server is one storage node: the client protocol endpoint plus the admin
// core driven by messages from the coordination service.
type Server struct {
	cfg   Config
	coord coord.Coordinator
	log   *slog.Logger

	primary storage.Store
	replica storage.Store
	lock    writeLock

	state atomic.Int32
	meta  atomic.Pointer[cluster.Metadata]

	registry prometheus.Registerer
	metrics  *metrics.Node

	replicator *listener.Listener[delta]
	subs       *subscriptions

	listener net.Listener
	connsMu  sync.Mutex
	conns    map[uuid.UUID]*clientConn

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a node server. The server takes ownership of c and closes it
// on Stop; closing the session is what removes the liveness entry.
func New(cfg Config, c coord.Coordinator, opts ...Option) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = cfg.Addr()
	}
	if cfg.ReplicationQueue <= 0 {
		cfg.ReplicationQueue = defaultReplicationQueue
	}

	s := &Server{
		cfg:      cfg,
		coord:    c,
		log:      slog.Default().With("component", "node", "node", cfg.Name),
		primary:  storage.NewMemStore(),
		replica:  storage.NewMemStore(),
		registry: prometheus.NewRegistry(),
		conns:    make(map[uuid.UUID]*clientConn),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = metrics.NewNode(s.registry, cfg.Name,
		func() float64 { return float64(s.primary.Len()) },
		func() float64 { return float64(s.replica.Len()) },
	)
	s.replicator = listener.New[delta]("replication", cfg.ReplicationQueue, s.replicate)
	s.subs = newSubscriptions(s.metrics.Subscribers, defaultPushQueue)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start listens for clients, registers the liveness entry and begins
// consuming the admin inbox. The node is INIT afterwards.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		l, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
		}
		s.listener = l
	}

	if err := coord.EnsurePath(s.coord, s.cfg.Paths.Inbox(s.cfg.Name)); err != nil {
		return fmt.Errorf("ensure inbox: %w", err)
	}
	if err := coord.EnsurePath(s.coord, s.cfg.Paths.LiveDir()); err != nil {
		return fmt.Errorf("ensure live dir: %w", err)
	}
	if _, err := s.coord.Create(s.cfg.Paths.Live(s.cfg.Name), []byte(s.cfg.Addr()), coord.FlagEphemeral); err != nil {
		return fmt.Errorf("register liveness: %w", err)
	}
	s.setState(StateInit)

	s.replicator.Start(s.ctx)
	s.subs.start(s.ctx)

	s.wg.Add(2)
	go s.acceptLoop()
	go s.watchInbox()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	s.log.Info("node started", "addr", s.listener.Addr().String(), "ring_id", cluster.IDFor(s.cfg.Host, s.cfg.Port))
	return nil
}

// Stop closes the listener and every connection, disarms the watches and
// ends the coordination session. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}

		s.connsMu.Lock()
		for _, c := range s.conns {
			_ = c.conn.Close()
		}
		s.connsMu.Unlock()

		// сессия закрывается до ожидания горутин: watch-цикл может висеть на событии
		if err := s.coord.Close(); err != nil {
			s.log.Warn("close coordination session", "error", err)
		}
		s.wg.Wait()
		s.replicator.Stop()
		s.subs.stop()

		if s.State() != StateShutdown {
			s.setState(StateOffline)
		}
		close(s.done)
		s.log.Info("node stopped")
	})
}

// Done is closed once the server has fully stopped, e.g. after SHUTDOWN.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) Name() string { return s.cfg.Name }
func (s *Server) Addr() net.Addr { return s.listener.Addr() }
func (s *Server) State() State { return State(s.state.Load()) }
func (s *Server) Primary() storage.Store { return s.primary }
func (s *Server) Replica() storage.Store { return s.replica }

// Metadata returns the current snapshot, or false before the first UPDATE.
func (s *Server) Metadata() (cluster.Metadata, bool) {
	md := s.meta.Load()
	if md == nil {
		return cluster.Metadata{}, false
	}
	return *md, true
}

func (s *Server) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Info("state changed", "from", old, "to", st)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		c := newClientConn(conn)
		s.connsMu.Lock()
		if s.ctx.Err() != nil {
			s.connsMu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[c.id] = c
		s.connsMu.Unlock()
		s.metrics.Connections.Inc()

		s.wg.Add(1)
		go s.serveConn(c)
	}
}

// watchInbox applies admin messages in sequence order. A message is deleted
// only after it has been applied; the controller treats the deletion as the
// acknowledgement.
func (s *Server) watchInbox() {
	defer s.wg.Done()
	inbox := s.cfg.Paths.Inbox(s.cfg.Name)

	for {
		children, events, err := s.coord.ChildrenW(inbox)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, coord.ErrSessionClosed) {
				return
			}
			s.log.Warn("inbox watch failed", "error", err)
			select {
			case <-time.After(watchRetryDelay):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		sort.Strings(children)
		for _, child := range children {
			if s.ctx.Err() != nil {
				return
			}
			s.consume(path.Join(inbox, child))
			if s.State() == StateShutdown {
				// Stop ждёт эту горутину, поэтому вызываем асинхронно
				go s.Stop()
				return
			}
		}

		select {
		case ev := <-events:
			if ev.Type == coord.EventSessionLost {
				s.log.Warn("coordination session lost, inbox watch disarmed")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) consume(p string) {
	data, _, err := s.coord.Get(p)
	if errors.Is(err, coord.ErrNoNode) {
		return
	}
	if err != nil {
		s.log.Warn("read admin message", "path", p, "error", err)
		return
	}

	msg, err := protocol.DecodeAdmin(data)
	if err != nil {
		s.log.Error("drop malformed admin message", "path", p, "error", err)
	} else if err := s.Apply(msg); err != nil {
		s.log.Error("apply admin message", "type", msg.Type, "source", msg.Source, "error", err)
	}

	if err := s.coord.Delete(p, coord.AnyVersion); err != nil && !errors.Is(err, coord.ErrNoNode) {
		s.log.Warn("delete consumed admin message", "path", p, "error", err)
	}
}

// sendAdmin appends msg to target's inbox.
func (s *Server) sendAdmin(target string, msg protocol.AdminMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := s.coord.Create(s.cfg.Paths.MessagePrefix(target), data, coord.FlagSequence); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, target, err)
	}
	return nil
}
