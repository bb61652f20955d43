package node

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"ringkv/pkg/dberrors"
	"ringkv/pkg/protocol"
)

type clientConn struct {
	id   uuid.UUID
	conn net.Conn
	r    *protocol.Reader

	// pushes from the subscription fan-out interleave with replies
	writeMu sync.Mutex
}

func newClientConn(conn net.Conn) *clientConn {
	return &clientConn{
		id:   uuid.New(),
		conn: conn,
		r:    protocol.NewReader(conn),
	}
}

func (c *clientConn) send(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, m)
}

func (s *Server) serveConn(c *clientConn) {
	defer s.wg.Done()
	log := s.log.With("conn", c.id.String(), "remote", c.conn.RemoteAddr().String())

	defer func() {
		s.subs.drop(c)
		_ = c.conn.Close()
		s.connsMu.Lock()
		delete(s.conns, c.id)
		s.connsMu.Unlock()
		s.metrics.Connections.Dec()
		log.Debug("connection closed")
	}()

	for {
		req, err := c.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, dberrors.ErrFrameTooLarge) || !errors.Is(err, dberrors.ErrProtocol) {
				log.Warn("dropping connection", "error", err)
				return
			}

			log.Debug("bad request", "error", err)
			reply, ok := req.Status.ErrorReply()
			if !ok {
				// без распознанного статуса отвечать нечем, но поток цел
				continue
			}
			s.reply(c, req.Status, protocol.Message{Status: reply, Key: req.Key})
			continue
		}

		if req.Status == protocol.StatusDisconnect {
			return
		}
		resp := s.handle(c, req)
		if err := s.reply(c, req.Status, resp); err != nil {
			log.Debug("write reply failed", "error", err)
			return
		}
	}
}

func (s *Server) reply(c *clientConn, request protocol.Status, resp protocol.Message) error {
	s.metrics.Requests.WithLabelValues(request.String(), resp.Status.String()).Inc()
	return c.send(resp)
}

func (s *Server) handle(c *clientConn, req protocol.Message) protocol.Message {
	switch req.Status {
	case protocol.StatusGet:
		return s.handleGet(req)
	case protocol.StatusPut:
		return s.handlePut(req)
	case protocol.StatusSubscribe:
		s.subs.subscribe(c, req.Key)
		return protocol.Message{Status: protocol.StatusSubscribeSuccess, Key: req.Key}
	case protocol.StatusUnsubscribe:
		s.subs.unsubscribe(c, req.Key)
		return protocol.Message{Status: protocol.StatusSubscribeSuccess, Key: req.Key}
	default:
		if reply, ok := req.Status.ErrorReply(); ok {
			return protocol.Message{Status: reply, Key: req.Key}
		}
		// ответы сервера от клиента не принимаются
		return protocol.Message{Status: protocol.StatusPutError, Key: req.Key, Value: "unexpected status " + req.Status.String()}
	}
}

// gate answers SERVER_STOPPED or SERVER_NOT_RESPONSIBLE when the request
// must not reach storage.
func (s *Server) gate(key string) (protocol.Message, bool) {
	md := s.meta.Load()
	if s.State() != StateRunning || md == nil {
		return protocol.Message{Status: protocol.StatusServerStopped, Key: key}, false
	}

	self, ok := md.Lookup(s.cfg.Name)
	if ok && self.Owns(key) {
		return protocol.Message{}, true
	}

	raw, err := protocol.EncodeMetadata(*md)
	if err != nil {
		s.log.Error("encode metadata for redirect", "error", err)
		return protocol.Message{Status: protocol.StatusServerStopped, Key: key}, false
	}
	return protocol.Message{Status: protocol.StatusServerNotResponsible, Key: key, Value: raw}, false
}

func (s *Server) handleGet(req protocol.Message) protocol.Message {
	if resp, ok := s.gate(req.Key); !ok {
		return resp
	}
	v, err := s.primary.Get(req.Key)
	if err != nil {
		return protocol.Message{Status: protocol.StatusGetError, Key: req.Key}
	}
	return protocol.Message{Status: protocol.StatusGetSuccess, Key: req.Key, Value: v}
}

func (s *Server) handlePut(req protocol.Message) protocol.Message {
	if resp, ok := s.gate(req.Key); !ok {
		return resp
	}
	if !s.lock.acquireClient() {
		return protocol.Message{Status: protocol.StatusServerWriteLock, Key: req.Key}
	}
	defer s.lock.releaseClient()

	if req.Value == "" {
		if err := s.primary.Delete(req.Key); err != nil {
			return protocol.Message{Status: protocol.StatusDeleteError, Key: req.Key}
		}
		s.afterWrite(req.Key, "")
		return protocol.Message{Status: protocol.StatusDeleteSuccess, Key: req.Key}
	}

	existed, err := s.primary.Put(req.Key, req.Value)
	if err != nil {
		s.log.Error("put failed", "key", req.Key, "error", err)
		return protocol.Message{Status: protocol.StatusPutError, Key: req.Key}
	}
	s.afterWrite(req.Key, req.Value)
	if existed {
		return protocol.Message{Status: protocol.StatusPutUpdate, Key: req.Key, Value: req.Value}
	}
	return protocol.Message{Status: protocol.StatusPutSuccess, Key: req.Key, Value: req.Value}
}

// afterWrite queues replication and subscriber pushes for an applied client
// write. An empty value is a delete.
func (s *Server) afterWrite(key, value string) {
	s.replicator.Submit(delta{key: key, value: value})
	s.subs.publish(key, value)
}
