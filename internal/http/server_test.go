package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ringkv/internal/controller"
	"ringkv/internal/node"
	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

// fakeController records cluster operations and hands out pool slots in order
type fakeController struct {
	mu      sync.Mutex
	nodes   []controller.NodeInfo
	calls   []string
	failAll error
}

func newFakeController(names ...string) *fakeController {
	f := &fakeController{}
	for i, name := range names {
		f.nodes = append(f.nodes, controller.NodeInfo{Name: name, Host: "127.0.0.1", Port: 7000 + i})
	}
	return f
}

func (f *fakeController) AddNode(context.Context) (controller.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "add")
	for i := range f.nodes {
		if f.nodes[i].Status == controller.StatusOffline {
			f.nodes[i].Status = controller.StatusInUse
			return f.nodes[i], nil
		}
	}
	return controller.NodeInfo{}, dberrors.ErrNoAvailableNode
}

func (f *fakeController) RemoveNode(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "remove "+name)
	for i := range f.nodes {
		if f.nodes[i].Name == name && f.nodes[i].Status == controller.StatusInUse {
			f.nodes[i].Status = controller.StatusOffline
			return nil
		}
	}
	return fmt.Errorf("remove %s: %w", name, dberrors.ErrNodeNotFound)
}

func (f *fakeController) op(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failAll
}

func (f *fakeController) Start(context.Context) error { return f.op("start") }
func (f *fakeController) Stop(context.Context) error { return f.op("stop") }
func (f *fakeController) Shutdown(context.Context) error { return f.op("shutdown") }

func (f *fakeController) Nodes() []controller.NodeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controller.NodeInfo(nil), f.nodes...)
}

func (f *fakeController) Metadata() cluster.Metadata {
	return cluster.Metadata{Version: 3, Nodes: []cluster.Entry{{Name: "server1", Host: "127.0.0.1", Port: 7000}}}
}

type fakeNode struct{}

func (fakeNode) Name() string { return "server1" }
func (fakeNode) State() node.State { return node.StateRunning }

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s := NewControllerServer(newFakeController(), prometheus.NewRegistry(), "")
	rr := serve(s, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp := decodeResp(t, rr); resp.Status != StatusOK {
		t.Fatalf("unexpected status %q", resp.Status)
	}

	n := NewNodeServer(fakeNode{}, prometheus.NewRegistry(), "")
	rr = serve(n, http.MethodGet, "/health")
	if resp := decodeResp(t, rr); resp.State != "RUNNING" {
		t.Fatalf("expected node state RUNNING, got %q", resp.State)
	}
}

func TestNodeServerHasNoAdminAPI(t *testing.T) {
	n := NewNodeServer(fakeNode{}, prometheus.NewRegistry(), "")
	if rr := serve(n, http.MethodGet, "/api/nodes"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ringkv_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rr := serve(NewControllerServer(newFakeController(), reg, ""), http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ringkv_test_total 1") {
		t.Fatalf("metric missing from output:\n%s", rr.Body.String())
	}
}

func TestAddAndRemoveNode(t *testing.T) {
	ctrl := newFakeController("server1", "server2")
	s := NewControllerServer(ctrl, prometheus.NewRegistry(), "")

	for _, want := range []string{"server1", "server2"} {
		rr := serve(s, http.MethodPost, "/api/nodes")
		if rr.Code != http.StatusOK {
			t.Fatalf("add: expected 200, got %d", rr.Code)
		}
		resp := decodeResp(t, rr)
		if resp.Node == nil || resp.Node.Name != want || resp.Node.Status != controller.StatusInUse {
			t.Fatalf("add: unexpected node %+v", resp.Node)
		}
	}

	rr := serve(s, http.MethodPost, "/api/nodes")
	if rr.Code != http.StatusConflict {
		t.Fatalf("exhausted pool: expected 409, got %d", rr.Code)
	}
	if resp := decodeResp(t, rr); resp.Status != StatusError || resp.Error == "" {
		t.Fatalf("expected error envelope, got %+v", resp)
	}

	rr = serve(s, http.MethodDelete, "/api/nodes/server1")
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rr.Code)
	}
	rr = serve(s, http.MethodDelete, "/api/nodes/server1")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("remove twice: expected 404, got %d", rr.Code)
	}

	rr = serve(s, http.MethodGet, "/api/nodes")
	nodes := decodeResp(t, rr).Nodes
	if len(nodes) != 2 || nodes[0].Status != controller.StatusOffline || nodes[1].Status != controller.StatusInUse {
		t.Fatalf("unexpected pool %+v", nodes)
	}
}

func TestMetadata(t *testing.T) {
	s := NewControllerServer(newFakeController(), prometheus.NewRegistry(), "")
	rr := serve(s, http.MethodGet, "/api/metadata")
	md := decodeResp(t, rr).Metadata
	if md == nil || md.Version != 3 || len(md.Nodes) != 1 || md.Nodes[0].Name != "server1" {
		t.Fatalf("unexpected metadata %+v", md)
	}
}

func TestClusterActions(t *testing.T) {
	ctrl := newFakeController()
	s := NewControllerServer(ctrl, prometheus.NewRegistry(), "")

	for _, action := range []string{"start", "stop", "shutdown"} {
		if rr := serve(s, http.MethodPost, "/api/cluster/"+action); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", action, rr.Code)
		}
	}
	if rr := serve(s, http.MethodPost, "/api/cluster/reboot"); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: expected 400, got %d", rr.Code)
	}
	if got := strings.Join(ctrl.calls, ","); got != "start,stop,shutdown" {
		t.Fatalf("unexpected calls %s", got)
	}

	ctrl.failAll = fmt.Errorf("broadcast: %w", dberrors.ErrEmptyRing)
	if rr := serve(s, http.MethodPost, "/api/cluster/start"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("failed op: expected 500, got %d", rr.Code)
	}
}

func TestStartStop(t *testing.T) {
	s := NewControllerServer(newFakeController(), prometheus.NewRegistry(), "127.0.0.1:0")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get(s.URL() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
