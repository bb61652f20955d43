package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ringkv/internal/controller"
	"ringkv/internal/node"
	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5
)

type iController interface {
	AddNode(ctx context.Context) (controller.NodeInfo, error)
	RemoveNode(ctx context.Context, name string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Nodes() []controller.NodeInfo
	Metadata() cluster.Metadata
}

// iNode - то, что нужно ops-эндпоинтам ноды
type iNode interface {
	Name() string
	State() node.State
}

// Server is the HTTP surface of a ringkv process: the controller admin API
// or the ops endpoints of a storage node.
type Server struct {
	ctrl       iController
	node       iNode
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	listener   net.Listener
	addr       string
	log        *slog.Logger
}

// NewControllerServer serves the admin API of ctrl plus /health and /metrics.
func NewControllerServer(ctrl iController, gatherer prometheus.Gatherer, addr string) *Server {
	return &Server{
		ctrl:     ctrl,
		gatherer: gatherer,
		addr:     addr,
		log:      slog.Default().With("component", "http"),
	}
}

// NewNodeServer serves /health and /metrics of a storage node.
func NewNodeServer(n iNode, gatherer prometheus.Gatherer, addr string) *Server {
	return &Server{
		node:     n,
		gatherer: gatherer,
		addr:     addr,
		log:      slog.Default().With("component", "http", "node", n.Name()),
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = l
	s.httpServer = &http.Server{
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	s.log.Info("HTTP server started", "addr", l.Addr().String())
	return nil
}

// URL is the base URL of a started server.
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.ctrl != nil {
		r.Route("/api", func(r chi.Router) {
			r.Get("/nodes", s.handleNodes)
			r.Post("/nodes", s.handleAddNode)
			r.Delete("/nodes/{name}", s.handleRemoveNode)
			r.Get("/metadata", s.handleMetadata)
			r.Post("/cluster/{action}", s.handleClusterAction)
		})
	}
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberrors.ErrNodeNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dberrors.ErrNoAvailableNode), errors.Is(err, dberrors.ErrDuplicateNodeID):
		code = http.StatusConflict
	}
	s.writeJSON(w, code, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.node != nil {
		s.writeJSON(w, http.StatusOK, NewHealthResponse(s.node.State().String()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewNodesResponse(s.ctrl.Nodes()))
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	info, err := s.ctrl.AddNode(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewNodeResponse(info))
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.ctrl.RemoveNode(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewMetadataResponse(s.ctrl.Metadata()))
}

func (s *Server) handleClusterAction(w http.ResponseWriter, r *http.Request) {
	var op func(context.Context) error
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		op = s.ctrl.Start
	case "stop":
		op = s.ctrl.Stop
	case "shutdown":
		op = s.ctrl.Shutdown
	default:
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("unknown action "+action))
		return
	}

	if err := op(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}
