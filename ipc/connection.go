// Package ipc implements the connection core: the CONNECT handshake,
// unary call rendezvous, subscription multiplexing, and the background
// reader loop that dispatches frames by stream id.
//
// The goroutine/channel shape is modeled on xtaci/smux's Session —
// one dedicated reader goroutine, a map of pending waiters keyed by
// stream id instead of smux's accept channel, and a mutex-guarded
// send path that serializes frame emission the way smux's
// writeFrameInternal does (xtaci/smux/session.go).
package ipc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/eventstream"
	"github.com/aws-greengrass/ggipc-go/internal/streamtable"
	"github.com/aws-greengrass/ggipc-go/internal/unixsocket"
	"github.com/aws-greengrass/ggipc-go/value"
)

// State is the connection's lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

const (
	streamConnect = 0
	streamUnary   = 1
	firstSubStrm  = 2
)

// ConnectOptions picks the CONNECT payload shape: a component name, or an
// auth token.
type ConnectOptions struct {
	ComponentName string
	AuthToken     string
}

type pendingResult struct {
	msg    eventstream.Message
	common eventstream.CommonHeaders
	err    error
}

// Connection is a single multiplexed IPC connection: one Unix domain
// socket carrying the current unary call on stream 1 and any number of
// subscriptions on stream ids >= 2.
type Connection struct {
	cfg  Config
	log  Logger
	conn net.Conn

	stateMu sync.Mutex
	state   State

	sendMu  sync.Mutex
	sendBuf []byte

	recvMu  sync.Mutex
	recvBuf []byte

	nextStreamID uint32

	unaryMu sync.Mutex // only one unary call outstanding at a time

	pendingMu sync.Mutex
	pending   map[int32]chan pendingResult

	table *streamtable.Table

	svcuid string

	closeOnce sync.Once
	done      chan struct{}
}

// Connect dials path, performs the CONNECT handshake per opts, and
// returns a Connected Connection.
func Connect(path string, opts ConnectOptions, cfg Config) (*Connection, error) {
	conn, err := unixsocket.Dial(path)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: connect")
	}
	return connectOverConn(conn, opts, cfg)
}

// connectOverConn performs the handshake over an already-open conn and
// starts the reader loop. Split out from Connect so tests can drive the
// handshake over an in-process net.Pipe instead of a real socket.
func connectOverConn(conn net.Conn, opts ConnectOptions, cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()

	c := &Connection{
		cfg:          cfg,
		log:          cfg.logger(),
		conn:         conn,
		sendBuf:      make([]byte, cfg.MaxMsgLen),
		recvBuf:      make([]byte, cfg.MaxMsgLen),
		nextStreamID: firstSubStrm - 1,
		pending:      make(map[int32]chan pendingResult),
		table:        streamtable.New(cfg.MaxStreams),
		done:         make(chan struct{}),
	}

	if err := c.handshake(opts); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// SvcUID returns the svcuid the server handed back during CONNECT_ACK.
func (c *Connection) SvcUID() string { return c.svcuid }

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Connection) handshake(opts ConnectOptions) error {
	var payload value.Value
	if opts.AuthToken != "" {
		payload = value.Map([]value.Pair{
			{Key: []byte("authToken"), Value: value.Buf([]byte(opts.AuthToken))},
		})
	} else {
		payload = value.Map([]value.Pair{
			{Key: []byte("componentName"), Value: value.Buf([]byte(opts.ComponentName))},
		})
	}
	body, err := eventstream.EncodeJSON(payload)
	if err != nil {
		return errors.Wrap(err, "ipc: encode connect payload")
	}

	headers := []eventstream.Header{
		eventstream.HeaderInt32(":message-type", int32(eventstream.MessageTypeConnect)),
		eventstream.HeaderInt32(":message-flags", 0),
		eventstream.HeaderInt32(":stream-id", streamConnect),
		eventstream.HeaderString(":version", "0.1.0"),
	}

	if err := c.writeFrame(headers, body); err != nil {
		return errors.Wrap(err, "ipc: write connect frame")
	}

	msg, common, err := c.readFrame()
	if err != nil {
		return NewError(Failure, err.Error())
	}
	if common.MessageType != eventstream.MessageTypeConnectAck {
		return NewError(Failure, "expected CONNECT_ACK")
	}
	if !common.MessageFlags.Has(eventstream.FlagConnectionAccepted) {
		return NewError(Failure, "connect rejected")
	}
	if len(msg.Payload) > 0 {
		c.log.Printf("ipc: connect ack carried non-empty payload, ignoring")
	}

	if opts.AuthToken == "" {
		h, found, err := msg.FindHeader("svcuid")
		if err != nil {
			return NewError(Failure, err.Error())
		}
		if !found || h.Type != eventstream.ValueString || h.String == "" {
			return NewError(Failure, "connect ack missing svcuid")
		}
		c.svcuid = h.String
	}

	c.setState(Connected)
	return nil
}

// writeFrame serializes headers+payload and writes it under the send
// scratch mutex, keeping frame emission atomic on the shared socket
// mutex.
func (c *Connection) writeFrame(headers []eventstream.Header, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	frame, err := eventstream.Encode(headers, payload, c.cfg.MaxMsgLen)
	if err != nil {
		return err
	}
	return unixsocket.WriteFull(c.conn, frame)
}

// readFrame reads one complete frame under the receive scratch mutex.
// The handshake calls it before the reader goroutine starts; after that,
// only the reader goroutine calls it.
func (c *Connection) readFrame() (eventstream.Message, eventstream.CommonHeaders, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var preludeBuf [12]byte
	if err := unixsocket.ReadFull(c.conn, preludeBuf[:]); err != nil {
		return eventstream.Message{}, eventstream.CommonHeaders{}, err
	}
	prelude, err := eventstream.DecodePrelude(preludeBuf[:])
	if err != nil {
		return eventstream.Message{}, eventstream.CommonHeaders{}, err
	}
	if int(prelude.TotalLen) > len(c.recvBuf) {
		return eventstream.Message{}, eventstream.CommonHeaders{}, NewError(NoMem, "frame exceeds receive buffer")
	}

	rest := c.recvBuf[:int(prelude.TotalLen)-12]
	if err := unixsocket.ReadFull(c.conn, rest); err != nil {
		return eventstream.Message{}, eventstream.CommonHeaders{}, err
	}

	msg, err := eventstream.Decode(preludeBuf[:], prelude, rest)
	if err != nil {
		return eventstream.Message{}, eventstream.CommonHeaders{}, err
	}
	common, err := msg.CommonHeaders()
	if err != nil {
		return eventstream.Message{}, eventstream.CommonHeaders{}, err
	}
	return msg, common, nil
}

// readLoop is the connection's single dedicated reader goroutine. It
// continuously decodes frames and dispatches them by stream id: stream 1
// completes the outstanding unary call, other known stream ids complete a
// subscription-open rendezvous or fan out to a subscription callback,
// and unknown stream ids are silently dropped.
func (c *Connection) readLoop() {
	for {
		msg, common, err := c.readFrame()
		if err != nil {
			c.fail(err)
			return
		}
		c.dispatch(msg, common)
	}
}

func (c *Connection) dispatch(msg eventstream.Message, common eventstream.CommonHeaders) {
	if ch, ok := c.takePending(common.StreamID); ok {
		ch <- pendingResult{msg: msg, common: common}
		return
	}
	c.dispatchSubscription(msg, common)
}

// fail marks the connection Disconnected and unblocks every waiter with
// NoConn.
func (c *Connection) fail(err error) {
	c.setState(Disconnected)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- pendingResult{err: NewError(NoConn, err.Error())}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.notifySubscriptionsEndOfStream()
	c.closeOnce.Do(func() { close(c.done) })
}

// registerPending reserves streamID's rendezvous slot. It fails with
// Busy if a prior call on this stream id timed out and its late ack is
// still outstanding: the slot stays reserved until that ack arrives and
// is dropped by dispatch, rather than risking delivering a stale reply
// to a new caller.
func (c *Connection) registerPending(streamID int32) (chan pendingResult, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, busy := c.pending[streamID]; busy {
		return nil, NewError(Busy, "stream id awaiting a late reply")
	}
	ch := make(chan pendingResult, 1)
	c.pending[streamID] = ch
	return ch, nil
}

func (c *Connection) takePending(streamID int32) (chan pendingResult, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[streamID]
	if ok {
		delete(c.pending, streamID)
	}
	return ch, ok
}

func (c *Connection) dropPending(streamID int32) {
	c.pendingMu.Lock()
	delete(c.pending, streamID)
	c.pendingMu.Unlock()
}

// awaitPending blocks on ch for up to the configured response timeout.
// On timeout, the pending entry is left registered so a later, delayed
// ack is simply dropped rather than colliding with a fresh call.
func (c *Connection) awaitPending(streamID int32, ch chan pendingResult) (eventstream.Message, eventstream.CommonHeaders, error) {
	timer := time.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return eventstream.Message{}, eventstream.CommonHeaders{}, res.err
		}
		return res.msg, res.common, nil
	case <-timer.C:
		return eventstream.Message{}, eventstream.CommonHeaders{}, NewError(Timeout, "response timeout")
	case <-c.done:
		return eventstream.Message{}, eventstream.CommonHeaders{}, NewError(NoConn, "connection closed")
	}
}

// Close tears down the connection and unblocks any waiters.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.setState(Disconnected)
	return c.conn.Close()
}

// Done returns a channel closed when the connection has failed or been
// explicitly closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

func nextSubscriptionStreamID(c *Connection) int32 {
	return int32(atomic.AddUint32(&c.nextStreamID, 1))
}

// checkConnected returns NoConn if the connection is not Connected.
func (c *Connection) checkConnected() error {
	if c.State() != Connected {
		return NewError(NoConn, "not connected")
	}
	return nil
}

// newCallArena allocates the small internal arena used to decode an
// APPLICATION_ERROR payload.
func newCallArena(size int) *arena.Arena {
	return arena.New(make([]byte, size))
}
