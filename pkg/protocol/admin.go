package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

// AdminType is the control-plane message kind.
type AdminType uint8

const (
	AdminStart AdminType = iota + 1
	AdminStop
	AdminShutdown
	AdminUpdate
	AdminUpdateRemove
	AdminTransferKV
	AdminAckTransfer
)

func (t AdminType) String() string {
	switch t {
	case AdminStart:
		return "START"
	case AdminStop:
		return "STOP"
	case AdminShutdown:
		return "SHUTDOWN"
	case AdminUpdate:
		return "UPDATE"
	case AdminUpdateRemove:
		return "UPDATE_REMOVE"
	case AdminTransferKV:
		return "TRANSFER_KV"
	case AdminAckTransfer:
		return "ACK_TRANSFER"
	default:
		return fmt.Sprintf("AdminType(%d)", uint8(t))
	}
}

func ParseAdminType(s string) (AdminType, error) {
	switch s {
	case "START":
		return AdminStart, nil
	case "STOP":
		return AdminStop, nil
	case "SHUTDOWN":
		return AdminShutdown, nil
	case "UPDATE":
		return AdminUpdate, nil
	case "UPDATE_REMOVE":
		return AdminUpdateRemove, nil
	case "TRANSFER_KV":
		return AdminTransferKV, nil
	case "ACK_TRANSFER":
		return AdminAckTransfer, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, dberrors.ErrUnknownAdminType)
	}
}

const adminSeparator = "/"

// AdminMessage travels through the coordination service, from the controller
// to nodes and between nodes (TRANSFER_KV / ACK_TRANSFER).
type AdminMessage struct {
	Source   string
	Type     AdminType
	Metadata *cluster.Metadata
	KV       map[string]string
}

// Encode produces <source>/<type>/<metadataJSON>/<kvJSON>; absent parts are empty.
func (m AdminMessage) Encode() ([]byte, error) {
	if m.Source == "" || strings.Contains(m.Source, adminSeparator) {
		return nil, fmt.Errorf("admin source %q: %w", m.Source, dberrors.ErrInvalidArgument)
	}

	var md, kv []byte
	var err error
	if m.Metadata != nil {
		if md, err = json.Marshal(m.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	if m.KV != nil {
		if kv, err = json.Marshal(m.KV); err != nil {
			return nil, fmt.Errorf("encode kv: %w", err)
		}
	}

	out := make([]byte, 0, len(m.Source)+len(md)+len(kv)+16)
	out = append(out, m.Source...)
	out = append(out, adminSeparator...)
	out = append(out, m.Type.String()...)
	out = append(out, adminSeparator...)
	out = append(out, md...)
	out = append(out, adminSeparator...)
	out = append(out, kv...)
	return out, nil
}

func DecodeAdmin(data []byte) (AdminMessage, error) {
	// kv-значения могут содержать '/', поэтому режем не больше чем на 4 поля
	parts := strings.SplitN(string(data), adminSeparator, 4)
	if len(parts) != 4 {
		return AdminMessage{}, fmt.Errorf("admin frame with %d fields: %w", len(parts), dberrors.ErrMalformedFrame)
	}

	typ, err := ParseAdminType(parts[1])
	if err != nil {
		return AdminMessage{}, err
	}
	msg := AdminMessage{Source: parts[0], Type: typ}

	if parts[2] != "" {
		var md cluster.Metadata
		if err := json.Unmarshal([]byte(parts[2]), &md); err != nil {
			return AdminMessage{}, fmt.Errorf("decode metadata: %v: %w", err, dberrors.ErrMalformedFrame)
		}
		msg.Metadata = &md
	}
	if parts[3] != "" {
		if err := json.Unmarshal([]byte(parts[3]), &msg.KV); err != nil {
			return AdminMessage{}, fmt.Errorf("decode kv: %v: %w", err, dberrors.ErrMalformedFrame)
		}
	}
	return msg, nil
}

// EncodeMetadata is the value of a SERVER_NOT_RESPONSIBLE reply.
func EncodeMetadata(md cluster.Metadata) (string, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func DecodeMetadata(s string) (cluster.Metadata, error) {
	var md cluster.Metadata
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return md, fmt.Errorf("decode metadata: %v: %w", err, dberrors.ErrMalformedFrame)
	}
	return md, nil
}
