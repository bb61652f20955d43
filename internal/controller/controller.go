package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ringkv/pkg/cluster"
	"ringkv/pkg/coord"
	"ringkv/pkg/dberrors"
	"ringkv/pkg/metrics"
	"ringkv/pkg/protocol"
)

// Source is the admin message source used by the controller.
const Source = "controller"

type NodeStatus int

const (
	StatusOffline NodeStatus = iota
	StatusIdle
	StatusInUse
	StatusStop
)

func (s NodeStatus) String() string {
	switch s {
	case StatusOffline:
		return "OFFLINE"
	case StatusIdle:
		return "IDLE"
	case StatusInUse:
		return "INUSE"
	case StatusStop:
		return "STOP"
	default:
		return fmt.Sprintf("NodeStatus(%d)", int(s))
	}
}

func (s NodeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *NodeStatus) UnmarshalText(text []byte) error {
	for _, st := range []NodeStatus{StatusOffline, StatusIdle, StatusInUse, StatusStop} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown node status %q", text)
}

type Config struct {
	Paths        coord.Paths
	StartTimeout time.Duration
	PollInterval time.Duration
	RemoveGrace  time.Duration
	AckTimeout   time.Duration
}

// NodeInfo is one pool slot as reported by the admin API.
type NodeInfo struct {
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Status     NodeStatus `json:"status"`
	ID         string     `json:"id"`
	RangeStart string     `json:"range_start,omitempty"`
	RangeStop  string     `json:"range_stop,omitempty"`
}

type slot struct {
	member  cluster.Member
	status  NodeStatus
	leaving bool
	// gen invalidates liveness watches of earlier incarnations
	gen     uint64
	unwatch context.CancelFunc
}

type Option func(*Controller)

func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Controller) { c.registry = reg }
}

// Controller owns the ring and drives node lifecycles through the
// coordination service. Public operations are serialized.
type Controller struct {
	mu sync.Mutex

	cfg      Config
	coord    coord.Coordinator
	launcher Launcher
	ring     *cluster.HashRing
	pool     []*slot
	running  bool

	registry prometheus.Registerer
	metrics  *metrics.Controller
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, c coord.Coordinator, launcher Launcher, pool []cluster.Member, opts ...Option) *Controller {
	ctrl := &Controller{
		cfg:      cfg,
		coord:    c,
		launcher: launcher,
		ring:     cluster.NewHashRing(),
		registry: prometheus.NewRegistry(),
		log:      slog.Default().With("component", "controller"),
	}
	for _, m := range pool {
		ctrl.pool = append(ctrl.pool, &slot{member: m, status: StatusOffline, unwatch: func() {}})
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	ctrl.metrics = metrics.NewController(ctrl.registry)
	ctrl.ctx, ctrl.cancel = context.WithCancel(context.Background())
	return ctrl
}

// Init creates the coordination layout.
func (c *Controller) Init() error {
	for _, p := range []string{c.cfg.Paths.LiveDir(), c.cfg.Paths.InboxDir()} {
		if err := coord.EnsurePath(c.coord, p); err != nil {
			return fmt.Errorf("init %s: %w", p, err)
		}
	}
	c.log.Info("controller initialized", "root", c.cfg.Paths.Root, "pool", len(c.pool))
	return nil
}

// Close disarms liveness watches. Nodes keep running.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// AddNode provisions the first OFFLINE pool slot and returns it.
func (c *Controller) AddNode(ctx context.Context) (NodeInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.pool {
		if s.status != StatusOffline {
			continue
		}
		err := c.addSlot(ctx, s)
		c.observe("add", err)
		if err != nil {
			return NodeInfo{}, err
		}
		return c.info(s), nil
	}
	c.observe("add", dberrors.ErrNoAvailableNode)
	return NodeInfo{}, dberrors.ErrNoAvailableNode
}

// RemoveNode drains name into the rest of the ring and shuts it down.
func (c *Controller) RemoveNode(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(name)
	if s == nil || s.status != StatusInUse {
		err := fmt.Errorf("remove %q: %w", name, dberrors.ErrNodeNotFound)
		c.observe("remove", err)
		return err
	}
	err := c.removeSlot(ctx, s, false)
	c.observe("remove", err)
	return err
}

func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.broadcast(ctx, protocol.AdminStart)
	if err == nil {
		c.running = true
	}
	c.observe("start", err)
	return err
}

func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.broadcast(ctx, protocol.AdminStop)
	if err == nil {
		c.running = false
	}
	c.observe("stop", err)
	return err
}

// Shutdown stops every node and empties the ring.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, s := range c.active() {
		s.leaving = true
		s.unwatch()
		if _, err := c.send(s.member.Name, protocol.AdminMessage{Source: Source, Type: protocol.AdminShutdown}); err != nil {
			errs = append(errs, err)
		}
		s.status = StatusOffline
	}
	if err := c.ring.Initialize(nil); err != nil {
		errs = append(errs, err)
	}
	c.running = false
	c.metrics.ActiveNodes.Set(0)

	err := errors.Join(errs...)
	c.observe("shutdown", err)
	c.log.Info("cluster shut down")
	return err
}

// Nodes lists the pool in file order.
func (c *Controller) Nodes() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]NodeInfo, 0, len(c.pool))
	for _, s := range c.pool {
		out = append(out, c.info(s))
	}
	return out
}

func (c *Controller) Metadata() cluster.Metadata {
	return c.ring.Snapshot()
}

func (c *Controller) info(s *slot) NodeInfo {
	ni := NodeInfo{
		Name:   s.member.Name,
		Host:   s.member.Host,
		Port:   s.member.Port,
		Status: s.status,
		ID:     s.member.ID().String(),
	}
	if n, ok := c.ring.Get(s.member.ID()); ok {
		ni.RangeStart = n.RangeStart.String()
		ni.RangeStop = n.RangeStop.String()
	}
	return ni
}

func (c *Controller) slot(name string) *slot {
	for _, s := range c.pool {
		if s.member.Name == name {
			return s
		}
	}
	return nil
}

func (c *Controller) active() []*slot {
	var out []*slot
	for _, s := range c.pool {
		if s.status == StatusInUse {
			out = append(out, s)
		}
	}
	return out
}

func (c *Controller) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		c.log.Warn("operation failed", "op", op, "error", err)
	}
	c.metrics.Operations.WithLabelValues(op, result).Inc()
}

// addSlot brings s onto the ring. On failure the ring is restored and s is
// OFFLINE again. The caller holds mu.
func (c *Controller) addSlot(ctx context.Context, s *slot) error {
	m := s.member
	log := c.log.With("node", m.Name)
	s.status = StatusIdle
	s.leaving = false

	if _, err := c.ring.Insert(m); err != nil {
		s.status = StatusOffline
		return fmt.Errorf("add %s: %w", m.Name, err)
	}
	rollback := func(cause error) error {
		if _, err := c.ring.Remove(m.ID()); err != nil {
			log.Error("ring rollback failed", "error", err)
		}
		s.status = StatusOffline
		return fmt.Errorf("add %s: %w", m.Name, cause)
	}

	// сообщения прошлой инкарнации не должны попасть новой ноде
	inbox := c.cfg.Paths.Inbox(m.Name)
	if err := coord.DeleteTree(c.coord, inbox); err != nil {
		return rollback(err)
	}
	if err := coord.EnsurePath(c.coord, inbox); err != nil {
		return rollback(err)
	}

	if err := c.launcher.Launch(ctx, m); err != nil {
		return rollback(err)
	}
	if err := coord.WaitExists(ctx, c.coord, c.cfg.Paths.Live(m.Name), c.cfg.PollInterval, c.cfg.StartTimeout); err != nil {
		return rollback(err)
	}

	s.status = StatusInUse
	s.gen++
	c.metrics.ActiveNodes.Set(float64(len(c.active())))
	log.Info("node joined", "id", m.ID().String(), "nodes", c.ring.Len())

	c.pushUpdate(ctx, m.Name)
	if c.running {
		if _, err := c.send(m.Name, protocol.AdminMessage{Source: Source, Type: protocol.AdminStart}); err != nil {
			log.Warn("start new node", "error", err)
		}
	}
	c.watch(s)
	return nil
}

// removeSlot takes s off the ring. A graceful remove drains the node first; a
// crash skips the drain and re-provisions the slot. The caller holds mu.
func (c *Controller) removeSlot(ctx context.Context, s *slot, crash bool) error {
	m := s.member
	log := c.log.With("node", m.Name, "crash", crash)
	s.leaving = true
	s.unwatch()

	if _, err := c.ring.Remove(m.ID()); err != nil {
		return fmt.Errorf("remove %s: %w", m.Name, err)
	}
	s.status = StatusStop
	c.metrics.ActiveNodes.Set(float64(len(c.active())))
	md := c.pushUpdate(ctx, "")

	if crash {
		c.metrics.Crashes.Inc()
		if err := coord.DeleteTree(c.coord, c.cfg.Paths.Inbox(m.Name)); err != nil {
			log.Warn("clean inbox", "error", err)
		}
		s.status = StatusOffline
		log.Warn("node crashed, re-provisioning slot")
		return c.addSlot(ctx, s)
	}

	p, err := c.send(m.Name, protocol.AdminMessage{Source: Source, Type: protocol.AdminUpdateRemove, Metadata: &md})
	if err != nil {
		log.Warn("send UPDATE_REMOVE", "error", err)
	} else {
		c.awaitConsumed(ctx, map[string]string{m.Name: p})
	}

	select {
	case <-time.After(c.cfg.RemoveGrace):
	case <-ctx.Done():
	}

	if _, err := c.send(m.Name, protocol.AdminMessage{Source: Source, Type: protocol.AdminShutdown}); err != nil {
		log.Warn("send SHUTDOWN", "error", err)
	}
	s.status = StatusOffline
	log.Info("node removed", "nodes", c.ring.Len())
	return nil
}

// pushUpdate sends the current snapshot to every active node, first one
// first, and waits for the pushes to be applied.
func (c *Controller) pushUpdate(ctx context.Context, first string) cluster.Metadata {
	md := c.ring.Snapshot()
	msg := protocol.AdminMessage{Source: Source, Type: protocol.AdminUpdate, Metadata: &md}

	targets := c.active()
	for i, s := range targets {
		if s.member.Name == first {
			targets[0], targets[i] = targets[i], targets[0]
			break
		}
	}

	pending := make(map[string]string, len(targets))
	for _, s := range targets {
		p, err := c.send(s.member.Name, msg)
		if err != nil {
			c.log.Warn("push update", "node", s.member.Name, "error", err)
			continue
		}
		pending[s.member.Name] = p
	}
	c.awaitConsumed(ctx, pending)
	return md
}

func (c *Controller) broadcast(ctx context.Context, typ protocol.AdminType) error {
	pending := make(map[string]string)
	var errs []error
	for _, s := range c.active() {
		p, err := c.send(s.member.Name, protocol.AdminMessage{Source: Source, Type: typ})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pending[s.member.Name] = p
	}
	c.awaitConsumed(ctx, pending)
	return errors.Join(errs...)
}

// send appends msg to the node's inbox and returns the created path.
func (c *Controller) send(name string, msg protocol.AdminMessage) (string, error) {
	data, err := msg.Encode()
	if err != nil {
		return "", err
	}
	p, err := c.coord.Create(c.cfg.Paths.MessagePrefix(name), data, coord.FlagSequence)
	if err != nil {
		return "", fmt.Errorf("send %s to %s: %w", msg.Type, name, err)
	}
	c.metrics.Broadcasts.WithLabelValues(msg.Type.String()).Inc()
	return p, nil
}

// awaitConsumed waits until every pending message (node -> path) is deleted
// by its node, at most AckTimeout. Late nodes are logged, not failed.
func (c *Controller) awaitConsumed(ctx context.Context, pending map[string]string) {
	if len(pending) == 0 {
		return
	}
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	for name, p := range pending {
		for {
			exists, ch, err := c.coord.ExistsW(p)
			if err != nil {
				c.log.Warn("watch admin message", "node", name, "error", err)
				break
			}
			if !exists {
				break
			}

			var ev coord.Event
			select {
			case ev = <-ch:
			case <-timer.C:
				c.reportUnapplied(pending, name)
				return
			case <-ctx.Done():
				return
			}
			if ev.Type == coord.EventSessionLost {
				return
			}
		}
		delete(pending, name)
	}
}

func (c *Controller) reportUnapplied(pending map[string]string, from string) {
	for name, p := range pending {
		if exists, _, err := c.coord.Exists(p); err == nil && !exists {
			continue
		}
		c.metrics.UnackedPushes.Inc()
		c.log.Warn("admin message not applied in time", "node", name, "path", p, "timeout", c.cfg.AckTimeout, "waiting_on", from)
	}
}

// watch arms a liveness watch for the current incarnation of s.
func (c *Controller) watch(s *slot) {
	ctx, cancel := context.WithCancel(c.ctx)
	s.unwatch = cancel
	gen := s.gen
	live := c.cfg.Paths.Live(s.member.Name)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			exists, ch, err := c.coord.ExistsW(live)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("liveness watch failed", "node", s.member.Name, "error", err)
				}
				return
			}
			if !exists {
				c.handleCrash(s, gen)
				return
			}

			select {
			case ev := <-ch:
				switch ev.Type {
				case coord.EventNodeDeleted:
					c.handleCrash(s, gen)
					return
				case coord.EventSessionLost:
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Controller) handleCrash(s *slot, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil || s.leaving || s.gen != gen || s.status != StatusInUse {
		return
	}
	c.log.Warn("liveness entry vanished", "node", s.member.Name)
	err := c.removeSlot(c.ctx, s, true)
	c.observe("recover", err)
}
