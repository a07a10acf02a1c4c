// Package eventstream implements the frame codec used on the message stream.
//
// A frame is written as
//
//	event: <type>
//	data:<json>
//
// followed by a blank line. Lines starting with ':' are keep-alive comments.
// Decoding is incremental: bytes may arrive in chunks of any size and a frame
// is only surfaced once its delimiter has been seen. Segments that do not
// match the two-line frame pattern, or whose data is not valid JSON, are
// dropped without error so one bad chunk cannot end a healthy stream.
package eventstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
)

// Delimiter separates frames on the wire.
const Delimiter = "\n\n"

// KeepAlive is the comment block written while a generation is idle.
const KeepAlive = ":keepalive\n\n"

var framePattern = regexp.MustCompile(`(?s)^event:\s*([a-zA-Z]+)\s*[\r\n]+data:(.*)$`)

// Frame is one decoded event.
type Frame struct {
	Type string
	Data json.RawMessage
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

// Encode renders one frame. The payload is marshalled as compact JSON, which
// never contains a raw newline, so the delimiter cannot appear inside it.
func Encode(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", eventType, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(eventType) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(eventType)
	buf.WriteString("\ndata:")
	buf.Write(data)
	buf.WriteString(Delimiter)
	return buf.Bytes(), nil
}

// Write encodes a frame and writes it to w in a single call.
func Write(w io.Writer, eventType string, payload any) error {
	b, err := Encode(eventType, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decoder extracts frames from an incrementally growing buffer.
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends p to the internal buffer and returns every frame completed by
// it, in order. The trailing partial segment is kept for the next call.
func (d *Decoder) Feed(p []byte) []Frame {
	d.buf = append(d.buf, p...)

	var frames []Frame
	start := 0
	for {
		i := bytes.Index(d.buf[start:], []byte(Delimiter))
		if i < 0 {
			break
		}
		if f, ok := parseSegment(d.buf[start : start+i]); ok {
			frames = append(frames, f)
		}
		start += i + len(Delimiter)
	}
	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
	return frames
}

// Buffered returns the number of bytes held for an incomplete segment.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset drops any buffered partial segment.
func (d *Decoder) Reset() { d.buf = d.buf[:0] }

func parseSegment(seg []byte) (Frame, bool) {
	m := framePattern.FindSubmatch(seg)
	if m == nil {
		return Frame{}, false
	}
	data := bytes.TrimSpace(m[2])
	if !json.Valid(data) {
		return Frame{}, false
	}
	// The match aliases the decoder buffer, which is reused.
	return Frame{Type: string(m[1]), Data: json.RawMessage(bytes.Clone(data))}, true
}
