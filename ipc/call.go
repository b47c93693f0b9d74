package ipc

import (
	"github.com/pkg/errors"

	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/eventstream"
	"github.com/aws-greengrass/ggipc-go/value"
)

// errorPayloadArenaSize sizes the internal arena used to decode an
// APPLICATION_ERROR payload.
const errorPayloadArenaSize = 4096

// Call issues a unary request/response over stream 1 and blocks until a
// reply arrives or the response timeout elapses. Only one Call may be
// outstanding on a Connection at a time;
// concurrent callers serialize on the connection's unary-call mutex
// and the reserved stream id.
//
// On success, the reply is JSON-decoded and claimed into replyArena so it
// outlives the connection's receive buffer. On a server-side
// APPLICATION_ERROR, Call returns a *RemoteError alongside a Remote-coded
// *Error.
func (c *Connection) Call(operation, serviceModelType string, params value.Value, replyArena *arena.Arena) (value.Value, *RemoteError, error) {
	c.unaryMu.Lock()
	defer c.unaryMu.Unlock()

	if err := c.checkConnected(); err != nil {
		return value.Value{}, nil, err
	}

	body, err := eventstream.EncodeJSON(params)
	if err != nil {
		return value.Value{}, nil, errors.Wrap(err, "ipc: encode call params")
	}

	headers := []eventstream.Header{
		eventstream.HeaderInt32(":message-type", int32(eventstream.MessageTypeApplicationMessage)),
		eventstream.HeaderInt32(":message-flags", 0),
		eventstream.HeaderInt32(":stream-id", streamUnary),
		eventstream.HeaderString("operation", operation),
		eventstream.HeaderString("service-model-type", serviceModelType),
	}

	ch, err := c.registerPending(streamUnary)
	if err != nil {
		return value.Value{}, nil, err
	}
	if err := c.writeFrame(headers, body); err != nil {
		c.dropPending(streamUnary)
		return value.Value{}, nil, NewError(Failure, err.Error())
	}

	msg, common, err := c.awaitPending(streamUnary, ch)
	if err != nil {
		return value.Value{}, nil, err
	}

	switch common.MessageType {
	case eventstream.MessageTypeApplicationMessage:
		decodeArena := arena.New(make([]byte, len(msg.Payload)+64))
		payloadCopy := append([]byte(nil), msg.Payload...)
		decoded, err := eventstream.DecodeJSON(payloadCopy, decodeArena)
		if err != nil {
			return value.Value{}, nil, NewError(Parse, err.Error())
		}
		claimed, err := claimInto(decoded, replyArena)
		if err != nil {
			return value.Value{}, nil, NewError(NoMem, err.Error())
		}
		return claimed, nil, nil

	case eventstream.MessageTypeApplicationError:
		errArena := newCallArena(errorPayloadArenaSize)
		payloadCopy := append([]byte(nil), msg.Payload...)
		decoded, err := eventstream.DecodeJSON(payloadCopy, errArena)
		if err != nil {
			return value.Value{}, nil, NewError(Parse, err.Error())
		}
		remote := remoteErrorFromPayload(decoded)
		return value.Value{}, remote, NewError(Remote, remote.Message)

	default:
		return value.Value{}, nil, NewError(Failure, "unexpected message type on unary stream")
	}
}

// remoteErrorFromPayload extracts {_errorCode, _message} from a decoded
// APPLICATION_ERROR payload and maps the wire code to the closed
// RemoteCode taxonomy.
func remoteErrorFromPayload(decoded value.Value) *RemoteError {
	pairs, _ := decoded.Map()

	wireCode := ""
	if v, ok := value.MapGet(pairs, []byte("_errorCode")); ok {
		if b, ok := v.Buffer(); ok {
			wireCode = string(b)
		}
	}
	message := ""
	if v, ok := value.MapGet(pairs, []byte("_message")); ok {
		if b, ok := v.Buffer(); ok {
			message = string(b)
		}
	}

	rc, _ := mapRemoteErrorCode(wireCode)
	return &RemoteError{WireCode: wireCode, Code: rc, Message: message}
}

// claimInto deep-copies decoded's interior storage into dst, detaching it
// from the transient frame buffer it was parsed from. If dst is nil, a
// fresh arena sized for decoded is used.
func claimInto(decoded value.Value, dst *arena.Arena) (value.Value, error) {
	if dst == nil {
		dst = arena.New(make([]byte, memUsage(decoded)+64))
	}
	return claimValue(decoded, dst)
}

func claimValue(v value.Value, a *arena.Arena) (value.Value, error) {
	switch v.Kind() {
	case value.KindBuf:
		b, _ := v.Buffer()
		claimed, err := a.ClaimBuffer(b)
		if err != nil {
			return value.Value{}, err
		}
		return value.Buf(claimed), nil
	case value.KindList:
		items, _ := v.List()
		out := make([]value.Value, len(items))
		for i, item := range items {
			claimed, err := claimValue(item, a)
			if err != nil {
				return value.Value{}, err
			}
			out[i] = claimed
		}
		return value.List(out), nil
	case value.KindMap:
		pairs, _ := v.Map()
		out := make([]value.Pair, len(pairs))
		for i, p := range pairs {
			keyCopy, err := a.ClaimBuffer(p.Key)
			if err != nil {
				return value.Value{}, err
			}
			valCopy, err := claimValue(p.Value, a)
			if err != nil {
				return value.Value{}, err
			}
			out[i] = value.Pair{Key: keyCopy, Value: valCopy}
		}
		return value.Map(out), nil
	default:
		return v, nil
	}
}

// memUsage estimates the arena bytes required to claim v, for sizing a
// fresh arena before claiming. Conservative: does not account for
// alignment padding.
func memUsage(v value.Value) int {
	switch v.Kind() {
	case value.KindBuf:
		b, _ := v.Buffer()
		return len(b)
	case value.KindList:
		items, _ := v.List()
		n := 0
		for _, item := range items {
			n += memUsage(item)
		}
		return n
	case value.KindMap:
		pairs, _ := v.Map()
		n := 0
		for _, p := range pairs {
			n += len(p.Key) + memUsage(p.Value)
		}
		return n
	default:
		return 0
	}
}
