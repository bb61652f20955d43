package http

import (
	"ringkv/internal/controller"
	"ringkv/pkg/cluster"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates a cluster operation completed.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed; Error carries the reason.
	StatusError Status = "error"
)

// Response is the envelope of every admin and ops endpoint. Only the field
// matching the endpoint is set.
type Response struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	// State is the admin state of a storage node, reported by its /health.
	State    string                `json:"state,omitempty"`
	Node     *controller.NodeInfo  `json:"node,omitempty"`
	Nodes    []controller.NodeInfo `json:"nodes,omitempty"`
	Metadata *cluster.Metadata     `json:"metadata,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewHealthResponse(state string) Response {
	return Response{Status: StatusOK, State: state}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewNodeResponse(info controller.NodeInfo) Response {
	return Response{Status: StatusSuccess, Node: &info}
}

func NewNodesResponse(nodes []controller.NodeInfo) Response {
	return Response{Status: StatusSuccess, Nodes: nodes}
}

func NewMetadataResponse(md cluster.Metadata) Response {
	return Response{Status: StatusSuccess, Metadata: &md}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
