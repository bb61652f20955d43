package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ringkv/internal/controller"
	apihttp "ringkv/internal/http"
	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

// AdminClient talks to the controller's HTTP admin API.
type AdminClient struct {
	baseURL string
	client  *http.Client
}

func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
	}
}

func (a *AdminClient) Nodes(ctx context.Context) ([]controller.NodeInfo, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/nodes")
	return resp.Nodes, err
}

func (a *AdminClient) Metadata(ctx context.Context) (cluster.Metadata, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/metadata")
	if err != nil {
		return cluster.Metadata{}, err
	}
	if resp.Metadata == nil {
		return cluster.Metadata{}, fmt.Errorf("metadata missing from reply")
	}
	return *resp.Metadata, nil
}

func (a *AdminClient) AddNode(ctx context.Context) (controller.NodeInfo, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/nodes")
	if err != nil {
		return controller.NodeInfo{}, err
	}
	if resp.Node == nil {
		return controller.NodeInfo{}, fmt.Errorf("node missing from reply")
	}
	return *resp.Node, nil
}

func (a *AdminClient) RemoveNode(ctx context.Context, name string) error {
	_, err := a.do(ctx, http.MethodDelete, "/api/nodes/"+url.PathEscape(name))
	return err
}

func (a *AdminClient) Start(ctx context.Context) error {
	_, err := a.do(ctx, http.MethodPost, "/api/cluster/start")
	return err
}

func (a *AdminClient) Stop(ctx context.Context) error {
	_, err := a.do(ctx, http.MethodPost, "/api/cluster/stop")
	return err
}

func (a *AdminClient) Shutdown(ctx context.Context) error {
	_, err := a.do(ctx, http.MethodPost, "/api/cluster/shutdown")
	return err
}

func (a *AdminClient) do(ctx context.Context, method, path string) (apihttp.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	if err != nil {
		return apihttp.Response{}, fmt.Errorf("create %s request: %w", method, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return apihttp.Response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return apihttp.Response{}, statusError(resp.StatusCode, b)
	}

	var out apihttp.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apihttp.Response{}, fmt.Errorf("decode %s body: %w", path, err)
	}
	return out, nil
}

// statusError restores the sentinel behind a non-200 reply where one is known.
func statusError(code int, body []byte) error {
	var env apihttp.Response
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		msg = env.Error
	}

	for _, sentinel := range []error{dberrors.ErrNodeNotFound, dberrors.ErrNoAvailableNode, dberrors.ErrDuplicateNodeID} {
		if strings.Contains(msg, sentinel.Error()) {
			return fmt.Errorf("%w (%d: %s)", sentinel, code, msg)
		}
	}
	return fmt.Errorf("admin request failed: %d: %s", code, msg)
}
