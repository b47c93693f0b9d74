// Package eventstream implements the on-wire packet format used by the
// Greengrass local IPC protocol: a 12-byte prelude, a header block, a
// payload, and two CRC-32/IEEE checksums.
//
// Shaped after xtaci/smux's Frame (xtaci/smux/frame.go) — a small
// binary struct with a fixed-size header describing a variable-length
// payload — but the wire layout itself is the Greengrass eventstream-rpc
// one, not smux's 8-byte {ver,cmd,sid,len} header.
package eventstream

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// MessageType is the closed set of eventstream-rpc message types. Values
// are frozen wire constants from the upstream aws-c-eventstream-rpc
// protocol, chosen to stay wire-compatible with existing peers rather
// than invented.
type MessageType int32

const (
	MessageTypeApplicationMessage MessageType = 0
	MessageTypeApplicationError   MessageType = 1
	MessageTypePing               MessageType = 2
	MessageTypePingResponse       MessageType = 3
	MessageTypeConnect            MessageType = 4
	MessageTypeConnectAck         MessageType = 5
)

// MessageFlags is a bitfield. ConnectionAccepted marks a successful
// CONNECT_ACK; TerminateStream marks a subscription's last frame. Each
// occupies its own bit since both can appear in a header block built by
// generic code that doesn't know which message type it's framing.
type MessageFlags int32

const (
	FlagConnectionAccepted MessageFlags = 0x1
	FlagTerminateStream    MessageFlags = 0x2
)

func (f MessageFlags) Has(bit MessageFlags) bool { return f&bit != 0 }

// ValueType tags a Header's on-wire value representation.
type ValueType byte

const (
	ValueBoolTrue  ValueType = 0
	ValueBoolFalse ValueType = 1
	ValueInt32     ValueType = 2
	ValueString    ValueType = 3
)

// Header is one {name, typed value} entry of a frame's header block.
type Header struct {
	Name   string
	Type   ValueType
	Int32  int32
	String string
}

func HeaderBool(name string, b bool) Header {
	if b {
		return Header{Name: name, Type: ValueBoolTrue}
	}
	return Header{Name: name, Type: ValueBoolFalse}
}

func HeaderInt32(name string, v int32) Header {
	return Header{Name: name, Type: ValueInt32, Int32: v}
}

func HeaderString(name string, v string) Header {
	return Header{Name: name, Type: ValueString, String: v}
}

const (
	preludeLen  = 12
	trailingCRC = 4
	// MaxHeaderNameLen is the largest header name length (1-byte length
	// prefix).
	MaxHeaderNameLen = 127
)

// ErrOversizeFrame is returned by Encode when the encoded frame would
// exceed maxLen.
var ErrOversizeFrame = errors.New("eventstream: encoded frame exceeds maximum length")

// ErrParse is returned by Decode on CRC mismatch or structural error.
var ErrParse = errors.New("eventstream: malformed frame")

func crc(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}

// Encode serializes headers and payload into a single on-wire frame,
// failing with ErrOversizeFrame if the result would exceed maxLen.
func Encode(headers []Header, payload []byte, maxLen int) ([]byte, error) {
	headerLen := 0
	for _, h := range headers {
		if len(h.Name) > MaxHeaderNameLen {
			return nil, errors.Wrap(ErrParse, "header name too long")
		}
		headerLen += headerEncodedLen(h)
	}

	total := preludeLen + headerLen + len(payload) + trailingCRC
	if total > maxLen {
		return nil, ErrOversizeFrame
	}

	buf := make([]byte, total)
	// prelude placeholder, filled below
	off := preludeLen
	for _, h := range headers {
		off = encodeHeader(buf, off, h)
	}
	off += copy(buf[off:], payload)

	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint32(buf[4:8], uint32(headerLen))
	binary.BigEndian.PutUint32(buf[8:12], crc(buf[0:8]))

	binary.BigEndian.PutUint32(buf[off:off+4], crc(buf[:off]))

	return buf, nil
}

func headerEncodedLen(h Header) int {
	n := 1 + len(h.Name) + 1
	switch h.Type {
	case ValueBoolTrue, ValueBoolFalse:
	case ValueInt32:
		n += 4
	case ValueString:
		n += 2 + len(h.String)
	}
	return n
}

func encodeHeader(buf []byte, off int, h Header) int {
	buf[off] = byte(len(h.Name))
	off++
	off += copy(buf[off:], h.Name)
	buf[off] = byte(h.Type)
	off++
	switch h.Type {
	case ValueBoolTrue, ValueBoolFalse:
	case ValueInt32:
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(h.Int32))
		off += 4
	case ValueString:
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(h.String)))
		off += 2
		off += copy(buf[off:], h.String)
	}
	return off
}

// Prelude is the decoded fixed-size preamble of a frame.
type Prelude struct {
	TotalLen      uint32
	HeaderBlkLen  uint32
	PreludeCRC    uint32
}

// DecodePrelude validates and decodes the 12-byte prelude.
func DecodePrelude(b []byte) (Prelude, error) {
	if len(b) != preludeLen {
		return Prelude{}, errors.Wrap(ErrParse, "short prelude")
	}
	p := Prelude{
		TotalLen:     binary.BigEndian.Uint32(b[0:4]),
		HeaderBlkLen: binary.BigEndian.Uint32(b[4:8]),
		PreludeCRC:   binary.BigEndian.Uint32(b[8:12]),
	}
	if crc(b[0:8]) != p.PreludeCRC {
		return Prelude{}, errors.Wrap(ErrParse, "prelude crc mismatch")
	}
	if p.TotalLen < preludeLen+trailingCRC || p.HeaderBlkLen > p.TotalLen-preludeLen-trailingCRC {
		return Prelude{}, errors.Wrap(ErrParse, "invalid prelude lengths")
	}
	return p, nil
}

// Message is a decoded frame: its header block (as a raw iterator) and a
// payload slice that aliases the caller-supplied data buffer.
type Message struct {
	HeaderBlock []byte
	Payload     []byte
}

// Decode validates the message CRC over prelude+data and splits data into
// the header block and payload. prelude must be the 12 bytes already
// validated by DecodePrelude; data is everything after the prelude,
// including the trailing message CRC.
func Decode(prelude []byte, p Prelude, data []byte) (Message, error) {
	if uint32(len(data)) != p.TotalLen-preludeLen {
		return Message{}, errors.Wrap(ErrParse, "short frame body")
	}
	if len(data) < trailingCRC {
		return Message{}, errors.Wrap(ErrParse, "frame body missing message crc")
	}
	msgCRCOff := len(data) - trailingCRC
	wantCRC := binary.BigEndian.Uint32(data[msgCRCOff:])

	h := crc32.NewIEEE()
	h.Write(prelude)
	h.Write(data[:msgCRCOff])
	if h.Sum32() != wantCRC {
		return Message{}, errors.Wrap(ErrParse, "message crc mismatch")
	}

	if uint32(msgCRCOff) < p.HeaderBlkLen {
		return Message{}, errors.Wrap(ErrParse, "header block longer than frame")
	}

	return Message{
		HeaderBlock: data[:p.HeaderBlkLen],
		Payload:     data[p.HeaderBlkLen:msgCRCOff],
	}, nil
}

// HeaderIter is an iterator over a decoded header block. It walks the
// block in place, but each header's name and string value are copied
// into Go strings rather than borrowed from the block.
type HeaderIter struct {
	rest []byte
}

// Headers returns an iterator over msg's header block.
func (m Message) Headers() HeaderIter { return HeaderIter{rest: m.HeaderBlock} }

// Next returns the next header, or ok=false when the block is exhausted.
// The returned name and string value are copies, not views into the
// underlying buffer.
func (it *HeaderIter) Next() (h Header, ok bool, err error) {
	if len(it.rest) == 0 {
		return Header{}, false, nil
	}
	if len(it.rest) < 2 {
		return Header{}, false, errors.Wrap(ErrParse, "truncated header")
	}
	nameLen := int(it.rest[0])
	it.rest = it.rest[1:]
	if len(it.rest) < nameLen+1 {
		return Header{}, false, errors.Wrap(ErrParse, "truncated header name")
	}
	name := string(it.rest[:nameLen])
	it.rest = it.rest[nameLen:]
	typ := ValueType(it.rest[0])
	it.rest = it.rest[1:]

	h = Header{Name: name, Type: typ}
	switch typ {
	case ValueBoolTrue, ValueBoolFalse:
	case ValueInt32:
		if len(it.rest) < 4 {
			return Header{}, false, errors.Wrap(ErrParse, "truncated int32 header")
		}
		h.Int32 = int32(binary.BigEndian.Uint32(it.rest[:4]))
		it.rest = it.rest[4:]
	case ValueString:
		if len(it.rest) < 2 {
			return Header{}, false, errors.Wrap(ErrParse, "truncated string header length")
		}
		sl := int(binary.BigEndian.Uint16(it.rest[:2]))
		it.rest = it.rest[2:]
		if len(it.rest) < sl {
			return Header{}, false, errors.Wrap(ErrParse, "truncated string header")
		}
		h.String = string(it.rest[:sl])
		it.rest = it.rest[sl:]
	default:
		return Header{}, false, errors.Wrap(ErrParse, "unknown header value type")
	}
	return h, true, nil
}

// CommonHeaders is the triple of required headers every frame carries.
type CommonHeaders struct {
	MessageType  MessageType
	MessageFlags MessageFlags
	StreamID     int32
}

// CommonHeaders extracts {:message-type, :message-flags, :stream-id},
// failing with ErrParse if any are missing or the wrong type.
func (m Message) CommonHeaders() (CommonHeaders, error) {
	var out CommonHeaders
	var haveType, haveFlags, haveStream bool

	it := m.Headers()
	for {
		h, ok, err := it.Next()
		if err != nil {
			return CommonHeaders{}, err
		}
		if !ok {
			break
		}
		switch h.Name {
		case ":message-type":
			if h.Type != ValueInt32 {
				return CommonHeaders{}, errors.Wrap(ErrParse, ":message-type not int32")
			}
			out.MessageType = MessageType(h.Int32)
			haveType = true
		case ":message-flags":
			if h.Type != ValueInt32 {
				return CommonHeaders{}, errors.Wrap(ErrParse, ":message-flags not int32")
			}
			out.MessageFlags = MessageFlags(h.Int32)
			haveFlags = true
		case ":stream-id":
			if h.Type != ValueInt32 {
				return CommonHeaders{}, errors.Wrap(ErrParse, ":stream-id not int32")
			}
			out.StreamID = h.Int32
			haveStream = true
		}
	}
	if !haveType || !haveFlags || !haveStream {
		return CommonHeaders{}, errors.Wrap(ErrParse, "missing required header")
	}
	return out, nil
}

// FindHeader scans msg's headers for name, returning the first match.
func (m Message) FindHeader(name string) (Header, bool, error) {
	it := m.Headers()
	for {
		h, ok, err := it.Next()
		if err != nil {
			return Header{}, false, err
		}
		if !ok {
			return Header{}, false, nil
		}
		if h.Name == name {
			return h, true, nil
		}
	}
}
