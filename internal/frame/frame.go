// Package frame defines the fixed-size radio frame exchanged between the hub
// and relief nodes, and the small JSON documents carried in its payload.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Field sizes on the wire. Text fields are NUL padded, so the usable length
// of each is one byte less than its size.
const (
	KindSize    = 16
	TagSize     = 16
	UserSize    = 24
	PayloadSize = 180

	// Size is the exact length of an encoded frame.
	Size = KindSize + 2*TagSize + 2*UserSize + PayloadSize + 4

	// MaxPayload is the number of payload bytes a frame can carry.
	MaxPayload = PayloadSize - 1
)

const (
	offKind     = 0
	offFrom     = offKind + KindSize
	offTo       = offFrom + TagSize
	offUserFrom = offTo + TagSize
	offUserTo   = offUserFrom + UserSize
	offPayload  = offUserTo + UserSize
	offTS       = offPayload + PayloadSize
)

// Kind is the message type of a frame.
type Kind string

// Frame kinds understood by the core. Anything else is opaque and forwarded.
const (
	KindHeartbeat  Kind = "HEARTBEAT"
	KindBoot       Kind = "BOOT"
	KindServiceReg Kind = "SERVICE_REG"
	KindVolReq     Kind = "VOL_REQ"
	KindVolList    Kind = "VOL_LIST"
	KindChat       Kind = "CHAT"
)

// Scope tags.
const (
	TagHub = "MASTER"
	TagAll = "ALL"
)

// ErrShortFrame is returned when decoding fewer than Size bytes.
var ErrShortFrame = errors.New("frame: short frame")

// Frame is one radio message.
type Frame struct {
	Kind      Kind
	From      string
	To        string
	UserFrom  string
	UserTo    string
	Payload   []byte
	Timestamp uint32
}

// String renders the addressing part of a frame for logs.
func (f Frame) String() string {
	return fmt.Sprintf("%s %s->%s (%s->%s) %dB", f.Kind, f.From, f.To, f.UserFrom, f.UserTo, len(f.Payload))
}

// MarshalBinary encodes f into exactly Size bytes. Overlong fields are
// truncated to their usable length.
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	putText(buf[offKind:offKind+KindSize], string(f.Kind))
	putText(buf[offFrom:offFrom+TagSize], f.From)
	putText(buf[offTo:offTo+TagSize], f.To)
	putText(buf[offUserFrom:offUserFrom+UserSize], f.UserFrom)
	putText(buf[offUserTo:offUserTo+UserSize], f.UserTo)
	p := f.Payload
	if len(p) > MaxPayload {
		p = p[:MaxPayload]
	}
	copy(buf[offPayload:offPayload+PayloadSize], p)
	binary.LittleEndian.PutUint32(buf[offTS:], f.Timestamp)
	return buf, nil
}

// UnmarshalBinary decodes a frame. Bytes beyond Size are ignored.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return ErrShortFrame
	}
	f.Kind = Kind(getText(data[offKind : offKind+KindSize]))
	f.From = getText(data[offFrom : offFrom+TagSize])
	f.To = getText(data[offTo : offTo+TagSize])
	f.UserFrom = getText(data[offUserFrom : offUserFrom+UserSize])
	f.UserTo = getText(data[offUserTo : offUserTo+UserSize])
	p := data[offPayload : offPayload+PayloadSize]
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	f.Payload = append([]byte(nil), p...)
	f.Timestamp = binary.LittleEndian.Uint32(data[offTS:])
	return nil
}

// Decode is a convenience wrapper around UnmarshalBinary.
func Decode(data []byte) (Frame, error) {
	var f Frame
	err := f.UnmarshalBinary(data)
	return f, err
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func putText(dst []byte, s string) {
	copy(dst, Truncate(s, len(dst)-1))
}

func getText(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
