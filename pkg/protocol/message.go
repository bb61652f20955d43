package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ringkv/pkg/dberrors"
)

const (
	Delimiter    = "\r\n"
	MaxKeySize   = 20
	MaxValueSize = 120 * 1024

	maxStatusSize = 32
	// MaxFrameSize bounds how much a reader buffers before giving up on a peer.
	MaxFrameSize = maxStatusSize + MaxKeySize + MaxValueSize + 3*len(Delimiter)
)

// Message is one client protocol frame: <STATUS>\r\n<KEY>\r\n<VALUE>\r\n.
type Message struct {
	Status Status
	Key    string
	Value  string
}

// NewMessage validates key and value before building the message.
func NewMessage(status Status, key, value string) (Message, error) {
	if err := validate(status, key, value); err != nil {
		return Message{}, err
	}
	return Message{Status: status, Key: key, Value: value}, nil
}

func validate(status Status, key, value string) error {
	if len(key) > MaxKeySize {
		return fmt.Errorf("key of %d bytes (max %d): %w", len(key), MaxKeySize, dberrors.ErrKeyTooLong)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("value of %d bytes (max %d): %w", len(value), MaxValueSize, dberrors.ErrValueTooLarge)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("key is not valid utf-8: %w", dberrors.ErrMalformedFrame)
	}
	if strings.Contains(key, Delimiter) || strings.Contains(value, Delimiter) {
		return fmt.Errorf("delimiter inside key or value: %w", dberrors.ErrMalformedFrame)
	}
	if (status == StatusGet || status == StatusPut) && key == "" {
		return fmt.Errorf("%s with empty key: %w", status, dberrors.ErrMalformedFrame)
	}
	return nil
}

func (m Message) Encode() []byte {
	var b bytes.Buffer
	b.Grow(len(m.Key) + len(m.Value) + maxStatusSize + 3*len(Delimiter))
	b.WriteString(m.Status.String())
	b.WriteString(Delimiter)
	b.WriteString(m.Key)
	b.WriteString(Delimiter)
	b.WriteString(m.Value)
	b.WriteString(Delimiter)
	return b.Bytes()
}

func (m Message) String() string {
	v := m.Value
	if len(v) > 32 {
		v = v[:32] + "..."
	}
	return fmt.Sprintf("%s key=%q value=%q", m.Status, m.Key, v)
}

func WriteMessage(w io.Writer, m Message) error {
	if _, err := w.Write(m.Encode()); err != nil {
		return fmt.Errorf("write %s: %w", m.Status, err)
	}
	return nil
}

// Reader decodes frames from a stream. It is not safe for concurrent use.
type Reader struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next frame. io.EOF means the peer closed between frames.
//
// When the frame itself was intact but its content is invalid, the returned
// Message carries the parsed Status so the caller can answer with a matching
// error reply; the stream stays usable. ErrFrameTooLarge leaves the stream
// desynchronized and the connection must be dropped.
func (r *Reader) Read() (Message, error) {
	r.buf.Reset()

	delims := 0
	for delims < 3 {
		c, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && r.buf.Len() > 0 {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
		r.buf.WriteByte(c)
		if r.buf.Len() > MaxFrameSize {
			return Message{}, dberrors.ErrFrameTooLarge
		}
		if c == '\n' && bytes.HasSuffix(r.buf.Bytes(), []byte(Delimiter)) {
			delims++
		}
	}

	return Decode(r.buf.Bytes())
}

// Decode parses a single complete frame.
func Decode(frame []byte) (Message, error) {
	parts := strings.SplitN(string(frame), Delimiter, 4)
	if len(parts) != 4 || parts[3] != "" {
		return Message{}, fmt.Errorf("want 3 fields: %w", dberrors.ErrMalformedFrame)
	}

	status, err := ParseStatus(parts[0])
	if err != nil {
		return Message{}, err
	}
	msg, err := NewMessage(status, parts[1], parts[2])
	if err != nil {
		return Message{Status: status}, err
	}
	return msg, nil
}
