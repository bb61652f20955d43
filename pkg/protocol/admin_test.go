package protocol

import (
	"errors"
	"testing"

	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

func testMetadata(t *testing.T) cluster.Metadata {
	t.Helper()
	r := cluster.NewHashRing()
	for _, m := range []cluster.Member{
		{Name: "a", Host: "10.0.0.1", Port: 5000},
		{Name: "b", Host: "10.0.0.2", Port: 5000},
	} {
		if _, err := r.Insert(m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return r.Snapshot()
}

func TestAdmin_EncodeDecode(t *testing.T) {
	md := testMetadata(t)
	msg := AdminMessage{
		Source:   "controller",
		Type:     AdminUpdate,
		Metadata: &md,
	}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeAdmin(raw)
	if err != nil {
		t.Fatalf("DecodeAdmin(%s): %v", raw, err)
	}
	if got.Source != "controller" || got.Type != AdminUpdate || got.KV != nil {
		t.Fatalf("decoded %+v", got)
	}
	if got.Metadata == nil || got.Metadata.Version != md.Version || len(got.Metadata.Nodes) != 2 {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
}

func TestAdmin_KVWithSlashes(t *testing.T) {
	msg := AdminMessage{
		Source: "a",
		Type:   AdminTransferKV,
		KV:     map[string]string{"path": "/usr/local/bin", "gone": ""},
	}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeAdmin(raw)
	if err != nil {
		t.Fatalf("DecodeAdmin: %v", err)
	}
	if got.Metadata != nil {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}
	if got.KV["path"] != "/usr/local/bin" || got.KV["gone"] != "" || len(got.KV) != 2 {
		t.Fatalf("kv = %v", got.KV)
	}
}

func TestAdmin_BareTypes(t *testing.T) {
	for typ := AdminStart; typ <= AdminAckTransfer; typ++ {
		raw, err := AdminMessage{Source: "controller", Type: typ}.Encode()
		if err != nil {
			t.Fatalf("Encode %s: %v", typ, err)
		}
		got, err := DecodeAdmin(raw)
		if err != nil || got.Type != typ {
			t.Fatalf("DecodeAdmin(%s) = %+v, %v", raw, got, err)
		}
	}
}

func TestAdmin_Malformed(t *testing.T) {
	cases := map[string]error{
		"controller/START":           dberrors.ErrMalformedFrame,
		"controller/REBOOT//":        dberrors.ErrUnknownAdminType,
		"controller/UPDATE/{oops}/":  dberrors.ErrMalformedFrame,
		"controller/TRANSFER_KV//[]": dberrors.ErrMalformedFrame,
	}
	for in, want := range cases {
		if _, err := DecodeAdmin([]byte(in)); !errors.Is(err, want) {
			t.Fatalf("DecodeAdmin(%q) err=%v, want %v", in, err, want)
		}
	}

	if _, err := (AdminMessage{Source: "a/b", Type: AdminStart}).Encode(); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("source with separator: err=%v", err)
	}
}

func TestMetadataValue(t *testing.T) {
	md := testMetadata(t)
	s, err := EncodeMetadata(md)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	if _, err := NewMessage(StatusServerNotResponsible, "k", s); err != nil {
		t.Fatalf("metadata does not fit a frame: %v", err)
	}
	got, err := DecodeMetadata(s)
	if err != nil || got.Len() != md.Len() {
		t.Fatalf("DecodeMetadata = %+v, %v", got, err)
	}
}
