package ipc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/eventstream"
	"github.com/aws-greengrass/ggipc-go/internal/streamtable"
	"github.com/aws-greengrass/ggipc-go/value"
)

// SubscriptionEvent is delivered to a subscription's callback for every
// frame the server sends on that stream.
type SubscriptionEvent struct {
	// Payload is the decoded value, or the zero Value if decoding
	// failed (Err set) or the event carries only end-of-stream.
	Payload value.Value
	// Raw holds the undecoded payload bytes when the message's content
	// is binary rather than JSON.
	Raw []byte
	// IsBinary reports whether Raw (rather than Payload) is populated.
	IsBinary bool
	// Err is set if the frame could not be parsed.
	Err error
	// EndOfStream is set when the subscription has been torn down: by
	// a TERMINATE_STREAM flag, a terminal server error, or the
	// connection failing. No further events follow.
	EndOfStream bool
}

// SubscriptionCallback receives each event for a subscription. It runs
// on the connection's reader goroutine while holding the subscription's
// own lock (not the stream table's lock), so it must not block on another call
// over the same Connection; a Close call against its own handle is safe
// to make (it runs to completion first).
type SubscriptionCallback func(SubscriptionEvent)

type subscriptionEntry struct {
	streamID int32
	callback SubscriptionCallback
	binary   bool

	mu     sync.Mutex
	closed bool
}

// Handle identifies an open subscription.
type Handle = streamtable.Handle

// Subscribe opens a subscription: it allocates a fresh stream id,
// registers a stream-table entry, sends the subscribe operation's
// APPLICATION_MESSAGE, and waits for the server's ack. binary marks the
// subscription's payload as raw buffer frames (e.g. PublishToTopic's
// binary overload) rather than JSON.
func (c *Connection) Subscribe(operation, serviceModelType string, params value.Value, binary bool, cb SubscriptionCallback) (Handle, error) {
	if err := c.checkConnected(); err != nil {
		return 0, err
	}

	streamID := nextSubscriptionStreamID(c)
	entry := &subscriptionEntry{streamID: streamID, callback: cb, binary: binary}

	h, err := c.table.Register(entry)
	if err != nil {
		return 0, NewError(Busy, err.Error())
	}

	body, err := eventstream.EncodeJSON(params)
	if err != nil {
		c.table.Release(h)
		return 0, errors.Wrap(err, "ipc: encode subscribe params")
	}

	headers := []eventstream.Header{
		eventstream.HeaderInt32(":message-type", int32(eventstream.MessageTypeApplicationMessage)),
		eventstream.HeaderInt32(":message-flags", 0),
		eventstream.HeaderInt32(":stream-id", streamID),
		eventstream.HeaderString("operation", operation),
		eventstream.HeaderString("service-model-type", serviceModelType),
	}

	ch, err := c.registerPending(streamID)
	if err != nil {
		c.table.Release(h)
		return 0, err
	}
	if err := c.writeFrame(headers, body); err != nil {
		c.dropPending(streamID)
		c.table.Release(h)
		return 0, NewError(Failure, err.Error())
	}

	_, common, err := c.awaitPending(streamID, ch)
	if err != nil {
		c.table.Release(h)
		return 0, err
	}

	if common.MessageType == eventstream.MessageTypeApplicationError {
		c.table.Release(h)
		return 0, NewError(Remote, "subscribe rejected")
	}
	if common.MessageType != eventstream.MessageTypeApplicationMessage {
		c.table.Release(h)
		return 0, NewError(Failure, "unexpected message type acking subscribe")
	}

	return h, nil
}

// CloseSubscription releases h's slot (bumping its generation so a
// racing dispatch sees it as unknown) and asks the server to terminate
// the stream.
func (c *Connection) CloseSubscription(h Handle) error {
	var entry *subscriptionEntry
	err := c.table.WithValue(h, func(v interface{}) {
		entry, _ = v.(*subscriptionEntry)
	})
	if err != nil {
		return NewError(NoEntry, err.Error())
	}

	entry.mu.Lock()
	entry.closed = true
	entry.mu.Unlock()

	if err := c.table.Release(h); err != nil {
		return NewError(NoEntry, err.Error())
	}

	headers := []eventstream.Header{
		eventstream.HeaderInt32(":message-type", int32(eventstream.MessageTypeApplicationMessage)),
		eventstream.HeaderInt32(":message-flags", int32(eventstream.FlagTerminateStream)),
		eventstream.HeaderInt32(":stream-id", entry.streamID),
	}
	return c.writeFrame(headers, nil)
}

// dispatchSubscription looks up msg's stream id in the table and, if
// found and not a pending-call rendezvous, decodes the payload and
// invokes the subscription's callback. An unknown stream id is silently
// dropped: the user may have closed concurrently.
func (c *Connection) dispatchSubscription(msg eventstream.Message, common eventstream.CommonHeaders) {
	entry := c.findSubscriptionByStreamID(common.StreamID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return
	}

	event := c.decodeSubscriptionEvent(msg, entry)

	terminal := common.MessageFlags.Has(eventstream.FlagTerminateStream) ||
		common.MessageType == eventstream.MessageTypeApplicationError
	event.EndOfStream = terminal

	entry.callback(event)

	if terminal {
		entry.closed = true
		c.releaseByStreamID(common.StreamID)
	}
}

// findSubscriptionByStreamID scans the table for the entry matching
// streamID. The table is small (default capacity 16) so a linear scan
// under its lock is cheap and keeps the table's only key as the
// generational Handle, while still letting the reader dispatch by the
// wire's bare stream id.
func (c *Connection) findSubscriptionByStreamID(streamID int32) *subscriptionEntry {
	var found *subscriptionEntry
	c.table.Each(func(h streamtable.Handle, v interface{}) {
		if found != nil {
			return
		}
		if e, ok := v.(*subscriptionEntry); ok && e.streamID == streamID {
			found = e
		}
	})
	return found
}

func (c *Connection) releaseByStreamID(streamID int32) {
	var target streamtable.Handle
	c.table.Each(func(h streamtable.Handle, v interface{}) {
		if e, ok := v.(*subscriptionEntry); ok && e.streamID == streamID {
			target = h
		}
	})
	if target != 0 {
		c.table.Release(target)
	}
}

func (c *Connection) decodeSubscriptionEvent(msg eventstream.Message, entry *subscriptionEntry) SubscriptionEvent {
	if entry.binary {
		return SubscriptionEvent{Raw: append([]byte(nil), msg.Payload...), IsBinary: true}
	}
	if len(msg.Payload) == 0 {
		return SubscriptionEvent{}
	}

	a := arena.New(make([]byte, len(msg.Payload)+64))
	payloadCopy := append([]byte(nil), msg.Payload...)
	decoded, err := eventstream.DecodeJSON(payloadCopy, a)
	if err != nil {
		return SubscriptionEvent{Err: NewError(Parse, err.Error())}
	}
	return SubscriptionEvent{Payload: decoded}
}

// notifySubscriptionsEndOfStream delivers a terminal event to every open
// subscription when the connection fails.
func (c *Connection) notifySubscriptionsEndOfStream() {
	var entries []*subscriptionEntry
	c.table.Each(func(h streamtable.Handle, v interface{}) {
		if e, ok := v.(*subscriptionEntry); ok {
			entries = append(entries, e)
		}
	})
	for _, e := range entries {
		e.mu.Lock()
		if !e.closed {
			e.closed = true
			e.callback(SubscriptionEvent{EndOfStream: true, Err: NewError(NoConn, "connection closed")})
		}
		e.mu.Unlock()
	}
}
