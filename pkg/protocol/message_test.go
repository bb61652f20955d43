package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"ringkv/pkg/dberrors"
)

func TestMessage_EncodeReadBack(t *testing.T) {
	var stream bytes.Buffer
	msgs := []Message{
		{Status: StatusPut, Key: "k", Value: "v1"},
		{Status: StatusGet, Key: "k"},
		{Status: StatusGetSuccess, Key: "k", Value: "line one\nline two"},
		{Status: StatusSubscribe},
	}
	for _, m := range msgs {
		if err := WriteMessage(&stream, m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	r := NewReader(&stream)
	for i, want := range msgs {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("frame %d = %v, want %v", i, got, want)
		}
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("read past end: %v, want EOF", err)
	}
}

func TestNewMessage_Limits(t *testing.T) {
	if _, err := NewMessage(StatusPut, strings.Repeat("k", MaxKeySize), "v"); err != nil {
		t.Fatalf("20-byte key rejected: %v", err)
	}

	_, err := NewMessage(StatusPut, strings.Repeat("k", MaxKeySize+1), "v")
	if !errors.Is(err, dberrors.ErrKeyTooLong) || !errors.Is(err, dberrors.ErrProtocol) {
		t.Fatalf("21-byte key: err=%v, want ErrKeyTooLong", err)
	}

	if _, err := NewMessage(StatusPut, "k", strings.Repeat("v", MaxValueSize)); err != nil {
		t.Fatalf("max value rejected: %v", err)
	}
	_, err = NewMessage(StatusPut, "k", strings.Repeat("v", MaxValueSize+1))
	if !errors.Is(err, dberrors.ErrValueTooLarge) {
		t.Fatalf("oversized value: err=%v, want ErrValueTooLarge", err)
	}

	if _, err := NewMessage(StatusPut, "k", "a\r\nb"); !errors.Is(err, dberrors.ErrMalformedFrame) {
		t.Fatalf("delimiter in value: err=%v, want ErrMalformedFrame", err)
	}
	if _, err := NewMessage(StatusGet, "", ""); !errors.Is(err, dberrors.ErrMalformedFrame) {
		t.Fatalf("empty GET key: err=%v, want ErrMalformedFrame", err)
	}
	if _, err := NewMessage(StatusPut, "\xff", "v"); !errors.Is(err, dberrors.ErrMalformedFrame) {
		t.Fatalf("invalid utf-8 key: err=%v", err)
	}
}

func TestReader_InvalidContentKeepsStream(t *testing.T) {
	stream := strings.NewReader(
		"PUT\r\n" + strings.Repeat("x", 25) + "\r\nv\r\n" +
			"GET\r\nk\r\n\r\n")
	r := NewReader(stream)

	bad, err := r.Read()
	if !errors.Is(err, dberrors.ErrKeyTooLong) {
		t.Fatalf("first frame err=%v, want ErrKeyTooLong", err)
	}
	if bad.Status != StatusPut {
		t.Fatalf("status of rejected frame = %s, want PUT", bad.Status)
	}

	next, err := r.Read()
	if err != nil || next.Status != StatusGet || next.Key != "k" {
		t.Fatalf("second frame = %v, %v", next, err)
	}
}

func TestReader_FrameCap(t *testing.T) {
	// без разделителей: читатель обязан остановиться на MaxFrameSize
	stream := strings.NewReader(strings.Repeat("a", MaxFrameSize+10))
	if _, err := NewReader(stream).Read(); !errors.Is(err, dberrors.ErrFrameTooLarge) {
		t.Fatalf("err=%v, want ErrFrameTooLarge", err)
	}
}

func TestReader_Truncated(t *testing.T) {
	r := NewReader(strings.NewReader("GET\r\nk\r\n"))
	if _, err := r.Read(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v, want ErrUnexpectedEOF", err)
	}
}

func TestDecode_UnknownStatus(t *testing.T) {
	_, err := Decode([]byte("FETCH\r\nk\r\n\r\n"))
	if !errors.Is(err, dberrors.ErrUnknownStatus) {
		t.Fatalf("err=%v, want ErrUnknownStatus", err)
	}
}

func TestStatus_Names(t *testing.T) {
	for s := StatusGet; s <= StatusSubscribeError; s++ {
		parsed, err := ParseStatus(s.String())
		if err != nil || parsed != s {
			t.Fatalf("ParseStatus(%s) = %v, %v", s, parsed, err)
		}
	}
	if reply, ok := StatusGet.ErrorReply(); !ok || reply != StatusGetError {
		t.Fatalf("GET error reply = %s", reply)
	}
	if _, ok := StatusGetSuccess.ErrorReply(); ok {
		t.Fatal("responses must not have an error reply")
	}
}
