// Package client is the ringkv request router: it keeps one connection to a
// storage node, follows SERVER_NOT_RESPONSIBLE redirects with the metadata
// they carry and fails over through the known nodes when a connection dies.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
	"ringkv/pkg/protocol"
)

const updatesBuffer = 256

type Config struct {
	// Servers are the bootstrap addresses tried in order by Connect.
	Servers        []string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Update is a SUBSCRIPTION_UPDATE pushed by the server; an empty Value
// means the key was deleted.
type Update struct {
	Key   string
	Value string
}

func (u Update) Deleted() bool { return u.Value == "" }

// link is one live connection with its read loop.
type link struct {
	addr      string
	conn      net.Conn
	responses chan protocol.Message
	done      chan struct{}
}

type Router struct {
	cfg Config
	log *slog.Logger

	// mu serializes requests: the protocol has no request ids.
	mu     sync.Mutex
	link   *link
	md     *cluster.Metadata
	closed bool

	subsAll bool
	subs    map[string]struct{}

	updates   chan Update
	closing   chan struct{}
	readers   sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config) *Router {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Router{
		cfg:     cfg,
		log:     slog.Default().With("component", "router"),
		subs:    make(map[string]struct{}),
		updates: make(chan Update, updatesBuffer),
		closing: make(chan struct{}),
	}
}

// Connect dials the bootstrap servers in order until one answers.
func (r *Router) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return dberrors.ErrClosed
	}
	return r.dialAny(ctx, r.cfg.Servers, "")
}

// Metadata returns the last topology learned from a redirect.
func (r *Router) Metadata() (cluster.Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.md == nil {
		return cluster.Metadata{}, false
	}
	return *r.md, true
}

// Addr is the node the router is currently connected to.
func (r *Router) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.link == nil {
		return ""
	}
	return r.link.addr
}

// Put stores value under key. It reports whether an existing value was
// replaced.
func (r *Router) Put(ctx context.Context, key, value string) (bool, error) {
	if value == "" {
		return false, fmt.Errorf("put %q with empty value, use Delete: %w", key, dberrors.ErrInvalidArgument)
	}
	resp, err := r.Do(ctx, protocol.StatusPut, key, value)
	if err != nil {
		return false, err
	}
	switch resp.Status {
	case protocol.StatusPutSuccess:
		return false, nil
	case protocol.StatusPutUpdate:
		return true, nil
	default:
		return false, replyError("put", key, resp)
	}
}

func (r *Router) Get(ctx context.Context, key string) (string, error) {
	resp, err := r.Do(ctx, protocol.StatusGet, key, "")
	if err != nil {
		return "", err
	}
	switch resp.Status {
	case protocol.StatusGetSuccess:
		return resp.Value, nil
	case protocol.StatusGetError:
		return "", fmt.Errorf("get %q: %w", key, dberrors.ErrNotFound)
	default:
		return "", replyError("get", key, resp)
	}
}

// Delete is a PUT with an empty value.
func (r *Router) Delete(ctx context.Context, key string) error {
	resp, err := r.Do(ctx, protocol.StatusPut, key, "")
	if err != nil {
		return err
	}
	switch resp.Status {
	case protocol.StatusDeleteSuccess:
		return nil
	case protocol.StatusDeleteError:
		return fmt.Errorf("delete %q: %w", key, dberrors.ErrNotFound)
	default:
		return replyError("delete", key, resp)
	}
}

// Subscribe asks the connected node to push changes of keys; no keys means
// every key. Subscriptions are replayed after a reconnect.
func (r *Router) Subscribe(ctx context.Context, keys ...string) error {
	return r.subscription(ctx, protocol.StatusSubscribe, keys)
}

func (r *Router) Unsubscribe(ctx context.Context, keys ...string) error {
	return r.subscription(ctx, protocol.StatusUnsubscribe, keys)
}

func (r *Router) subscription(ctx context.Context, status protocol.Status, keys []string) error {
	if len(keys) == 0 {
		keys = []string{""}
	}
	for _, k := range keys {
		resp, err := r.Do(ctx, status, k, "")
		if err != nil {
			return err
		}
		if resp.Status != protocol.StatusSubscribeSuccess {
			return replyError(status.String(), k, resp)
		}

		r.mu.Lock()
		switch {
		case status == protocol.StatusSubscribe && k == "":
			r.subsAll = true
		case status == protocol.StatusSubscribe:
			r.subs[k] = struct{}{}
		case k == "":
			r.subsAll = false
			clear(r.subs)
		default:
			delete(r.subs, k)
		}
		r.mu.Unlock()
	}
	return nil
}

// Updates delivers subscription pushes. It is closed by Close.
func (r *Router) Updates() <-chan Update {
	return r.updates
}

// Do validates and sends one request, following at most one redirect and
// failing over once when the connection breaks.
func (r *Router) Do(ctx context.Context, status protocol.Status, key, value string) (protocol.Message, error) {
	req, err := protocol.NewMessage(status, key, value)
	if err != nil {
		return protocol.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return protocol.Message{}, dberrors.ErrClosed
	}
	if r.link == nil {
		if err := r.dialAny(ctx, r.cfg.Servers, ""); err != nil {
			return protocol.Message{}, err
		}
	}

	addr := r.link.addr
	resp, err := r.exchange(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Message{}, ctx.Err()
		}
		r.log.Warn("connection lost, failing over", "addr", addr, "error", err)
		if err := r.failover(ctx); err != nil {
			return protocol.Message{}, err
		}
		if resp, err = r.exchange(ctx, req); err != nil {
			r.drop()
			return protocol.Message{}, fmt.Errorf("%s after failover: %v: %w", status, err, dberrors.ErrNoReachableServer)
		}
	}

	if resp.Status != protocol.StatusServerNotResponsible {
		return resp, nil
	}
	owner, err := r.learn(resp.Value, key)
	if err != nil {
		return protocol.Message{}, err
	}
	r.log.Debug("redirect", "key", key, "from", addr, "to", owner.Addr())

	if err := r.switchTo(ctx, owner.Addr()); err != nil {
		// владелец недоступен: пробуем остальных по кэшу метаданных
		if err := r.failover(ctx); err != nil {
			return protocol.Message{}, err
		}
	}
	resp, err = r.exchange(ctx, req)
	if err != nil {
		r.drop()
		return protocol.Message{}, fmt.Errorf("%s after redirect: %v: %w", status, err, dberrors.ErrNoReachableServer)
	}
	if resp.Status == protocol.StatusServerNotResponsible {
		if _, err := r.learn(resp.Value, key); err != nil {
			return protocol.Message{}, err
		}
		return protocol.Message{}, fmt.Errorf("%s %q: %w", status, key, dberrors.ErrNotResponsible)
	}
	return resp, nil
}

// Close disconnects and closes the updates channel.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.link != nil {
		_ = r.link.conn.SetWriteDeadline(time.Now().Add(r.cfg.DialTimeout))
		_ = protocol.WriteMessage(r.link.conn, protocol.Message{Status: protocol.StatusDisconnect})
	}
	r.drop()
	r.mu.Unlock()

	r.closeOnce.Do(func() { close(r.closing) })
	r.readers.Wait()
	close(r.updates)
	return nil
}

// learn caches the metadata of a redirect and returns the key's owner.
func (r *Router) learn(raw, key string) (cluster.Entry, error) {
	md, err := protocol.DecodeMetadata(raw)
	if err != nil {
		return cluster.Entry{}, fmt.Errorf("redirect metadata: %w", err)
	}
	if r.md == nil || md.Version >= r.md.Version {
		r.md = &md
	}
	owner, err := r.md.OwnerOf(key)
	if err != nil {
		return cluster.Entry{}, fmt.Errorf("owner of %q: %w", key, err)
	}
	return owner, nil
}

// failover reconnects through the cached metadata entries in ring order,
// skipping the address that just failed.
func (r *Router) failover(ctx context.Context) error {
	failed := ""
	if r.link != nil {
		failed = r.link.addr
	}
	r.drop()

	candidates := r.cfg.Servers
	if r.md != nil && r.md.Len() > 0 {
		candidates = make([]string, 0, r.md.Len())
		for _, e := range r.md.Nodes {
			candidates = append(candidates, e.Addr())
		}
	}
	return r.dialAny(ctx, candidates, failed)
}

func (r *Router) dialAny(ctx context.Context, addrs []string, skip string) error {
	var errs []error
	for _, addr := range addrs {
		if addr == skip {
			continue
		}
		if err := r.switchTo(ctx, addr); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %w", dberrors.ErrNoReachableServer, errors.Join(errs...))
}

// switchTo replaces the current connection with one to addr and replays
// subscriptions on it.
func (r *Router) switchTo(ctx context.Context, addr string) error {
	if r.link != nil && r.link.addr == addr {
		return nil
	}
	r.drop()

	d := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	l := &link{
		addr:      addr,
		conn:      conn,
		responses: make(chan protocol.Message, 1),
		done:      make(chan struct{}),
	}
	r.link = l
	r.readers.Add(1)
	go r.readLoop(l)
	r.log.Debug("connected", "addr", addr)

	return r.resubscribe(ctx, addr)
}

func (r *Router) resubscribe(ctx context.Context, addr string) error {
	keys := make([]string, 0, len(r.subs)+1)
	if r.subsAll {
		keys = append(keys, "")
	}
	for k := range r.subs {
		keys = append(keys, k)
	}
	for _, k := range keys {
		resp, err := r.exchange(ctx, protocol.Message{Status: protocol.StatusSubscribe, Key: k})
		if err != nil {
			r.drop()
			return fmt.Errorf("resubscribe on %s: %w", addr, err)
		}
		if resp.Status != protocol.StatusSubscribeSuccess {
			r.log.Warn("resubscribe rejected", "key", k, "status", resp.Status)
		}
	}
	return nil
}

// drop closes the current connection; its read loop exits on its own.
func (r *Router) drop() {
	if r.link == nil {
		return
	}
	_ = r.link.conn.Close()
	r.link = nil
}

func (r *Router) exchange(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	l := r.link
	if l == nil {
		return protocol.Message{}, net.ErrClosed
	}

	deadline := time.Now().Add(r.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	if err := protocol.WriteMessage(l.conn, req); err != nil {
		return protocol.Message{}, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case resp := <-l.responses:
		return resp, nil
	case <-l.done:
		return protocol.Message{}, fmt.Errorf("connection to %s closed", l.addr)
	case <-timer.C:
		// поздний ответ сбил бы порядок, поэтому соединение закрываем
		r.drop()
		return protocol.Message{}, fmt.Errorf("%s to %s: timed out", req.Status, l.addr)
	case <-ctx.Done():
		r.drop()
		return protocol.Message{}, ctx.Err()
	}
}

func (r *Router) readLoop(l *link) {
	defer r.readers.Done()
	defer close(l.done)

	rd := protocol.NewReader(l.conn)
	for {
		m, err := rd.Read()
		if err != nil {
			if errors.Is(err, dberrors.ErrProtocol) && !errors.Is(err, dberrors.ErrFrameTooLarge) {
				r.log.Warn("bad frame from server", "addr", l.addr, "error", err)
				continue
			}
			return
		}

		if m.Status == protocol.StatusSubscriptionUpdate {
			select {
			case r.updates <- Update{Key: m.Key, Value: m.Value}:
			default:
				r.log.Warn("updates channel full, dropping", "key", m.Key)
			}
			continue
		}

		select {
		case l.responses <- m:
		case <-r.closing:
			return
		}
	}
}

func replyError(op, key string, resp protocol.Message) error {
	switch resp.Status {
	case protocol.StatusServerStopped:
		return fmt.Errorf("%s %q: %w", op, key, dberrors.ErrServerStopped)
	case protocol.StatusServerWriteLock:
		return fmt.Errorf("%s %q: %w", op, key, dberrors.ErrWriteLocked)
	default:
		return fmt.Errorf("%s %q: server replied %s: %w", op, key, resp.Status, dberrors.ErrServerError)
	}
}
