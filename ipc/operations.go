package ipc

import (
	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/value"
)

// Operation names and service-model-types are thin request-shape
// wrappers over Call/Subscribe, matching the Greengrass local IPC
// component API surface.
const (
	opGetConfiguration             = "aws.greengrass#GetConfiguration"
	opUpdateConfiguration          = "aws.greengrass#UpdateConfiguration"
	opUpdateState                  = "aws.greengrass#UpdateState"
	opRestartComponent             = "aws.greengrass#RestartComponent"
	opPublishToTopic               = "aws.greengrass#PublishToTopic"
	opPublishToIoTCore             = "aws.greengrass#PublishToIoTCore"
	opSubscribeToTopic             = "aws.greengrass#SubscribeToTopic"
	opSubscribeToIoTCore           = "aws.greengrass#SubscribeToIoTCore"
	opSubscribeToConfigurationUpdate = "aws.greengrass#SubscribeToConfigurationUpdate"

	smtGeneric = "aws.greengrass#GenericResponse"
)

func stringList(items []string) value.Value {
	out := make([]value.Value, len(items))
	for i, s := range items {
		out[i] = value.Buf([]byte(s))
	}
	return value.List(out)
}

// GetConfiguration reads a configuration value at keyPath for component
// (empty means the calling component). It applies the single-key unwrap
// rule: when keyPath is non-empty and the reply's "value" is a one-entry
// map whose sole key equals keyPath's last element and whose value is
// not itself a map, the inner value is returned directly instead of the
// wrapping map.
func (c *Connection) GetConfiguration(component string, keyPath []string, replyArena *arena.Arena) (value.Value, error) {
	params := value.Map([]value.Pair{
		{Key: []byte("componentName"), Value: value.Buf([]byte(component))},
		{Key: []byte("keyPath"), Value: stringList(keyPath)},
	})

	reply, remoteErr, err := c.Call(opGetConfiguration, smtGeneric, params, replyArena)
	if err != nil {
		return value.Value{}, errOrRemote(err, remoteErr)
	}

	pairs, _ := reply.Map()
	v, ok := value.MapGet(pairs, []byte("value"))
	if !ok {
		return value.Null(), nil
	}
	return unwrapConfigValue(v, keyPath), nil
}

// unwrapConfigValue implements the GetConfiguration key-path unwrap rule.
func unwrapConfigValue(v value.Value, keyPath []string) value.Value {
	if len(keyPath) == 0 {
		return v
	}
	pairs, ok := v.Map()
	if !ok || len(pairs) != 1 {
		return v
	}
	lastKey := keyPath[len(keyPath)-1]
	if string(pairs[0].Key) != lastKey {
		return v
	}
	if _, isMap := pairs[0].Value.Map(); isMap {
		return v
	}
	return pairs[0].Value
}

// UpdateConfiguration writes a value at keyPath for the calling
// component, matching an UpdateConfigurationRequest.
func (c *Connection) UpdateConfiguration(keyPath []string, newValue value.Value, timestampEpochMs int64) error {
	params := value.Map([]value.Pair{
		{Key: []byte("keyPath"), Value: stringList(keyPath)},
		{Key: []byte("valueToMerge"), Value: newValue},
		{Key: []byte("timestamp"), Value: value.I64(timestampEpochMs)},
	})
	_, remoteErr, err := c.Call(opUpdateConfiguration, smtGeneric, params, nil)
	return errOrRemote(err, remoteErr)
}

// ComponentState mirrors the lifecycle states a component reports via
// UpdateState.
type ComponentState string

const (
	StateRunning ComponentState = "RUNNING"
	StateErrored ComponentState = "ERRORED"
	StateStopping ComponentState = "STOPPING"
)

// UpdateState reports the calling component's lifecycle state.
func (c *Connection) UpdateState(state ComponentState) error {
	params := value.Map([]value.Pair{
		{Key: []byte("state"), Value: value.Buf([]byte(state))},
	})
	_, remoteErr, err := c.Call(opUpdateState, smtGeneric, params, nil)
	return errOrRemote(err, remoteErr)
}

// RestartComponent requests that the Nucleus restart component.
func (c *Connection) RestartComponent(component string) error {
	params := value.Map([]value.Pair{
		{Key: []byte("componentName"), Value: value.Buf([]byte(component))},
	})
	_, remoteErr, err := c.Call(opRestartComponent, smtGeneric, params, nil)
	return errOrRemote(err, remoteErr)
}

// PublishToTopicJSON publishes a JSON value to a local pub/sub topic.
func (c *Connection) PublishToTopicJSON(topic string, payload value.Value) error {
	params := value.Map([]value.Pair{
		{Key: []byte("topic"), Value: value.Buf([]byte(topic))},
		{Key: []byte("publishMessage"), Value: value.Map([]value.Pair{
			{Key: []byte("jsonMessage"), Value: value.Map([]value.Pair{
				{Key: []byte("message"), Value: payload},
			})},
		})},
	})
	_, remoteErr, err := c.Call(opPublishToTopic, smtGeneric, params, nil)
	return errOrRemote(err, remoteErr)
}

// PublishToTopicBinary publishes raw bytes to a local pub/sub topic.
func (c *Connection) PublishToTopicBinary(topic string, payload []byte) error {
	params := value.Map([]value.Pair{
		{Key: []byte("topic"), Value: value.Buf([]byte(topic))},
		{Key: []byte("publishMessage"), Value: value.Map([]value.Pair{
			{Key: []byte("binaryMessage"), Value: value.Map([]value.Pair{
				{Key: []byte("message"), Value: value.Buf(payload)},
			})},
		})},
	})
	_, remoteErr, err := c.Call(opPublishToTopic, smtGeneric, params, nil)
	return errOrRemote(err, remoteErr)
}

// PublishToIoTCore publishes to an AWS IoT Core MQTT topic at the given
// QoS (0 or 1).
func (c *Connection) PublishToIoTCore(topic string, qos int32, payload []byte) error {
	params := value.Map([]value.Pair{
		{Key: []byte("topicName"), Value: value.Buf([]byte(topic))},
		{Key: []byte("qos"), Value: value.I64(int64(qos))},
		{Key: []byte("payload"), Value: value.Buf(payload)},
	})
	_, remoteErr, err := c.Call(opPublishToIoTCore, smtGeneric, params, nil)
	return errOrRemote(err, remoteErr)
}

// SubscribeToTopic opens a local pub/sub subscription. Events whose
// publish carried a binaryMessage are delivered with IsBinary set.
func (c *Connection) SubscribeToTopic(topic string, cb SubscriptionCallback) (Handle, error) {
	params := value.Map([]value.Pair{
		{Key: []byte("topic"), Value: value.Buf([]byte(topic))},
	})
	return c.Subscribe(opSubscribeToTopic, smtGeneric, params, false, func(ev SubscriptionEvent) {
		pairs, _ := ev.Payload.Map()
		if bm, ok := value.MapGet(pairs, []byte("binaryMessage")); ok {
			inner, _ := bm.Map()
			if msg, ok := value.MapGet(inner, []byte("message")); ok {
				if raw, ok := msg.Buffer(); ok {
					ev = SubscriptionEvent{Raw: raw, IsBinary: true, EndOfStream: ev.EndOfStream}
				}
			}
		}
		cb(ev)
	})
}

// SubscribeToIoTCore opens a subscription to an AWS IoT Core MQTT topic
// filter; events are always binary.
func (c *Connection) SubscribeToIoTCore(topicFilter string, qos int32, cb SubscriptionCallback) (Handle, error) {
	params := value.Map([]value.Pair{
		{Key: []byte("topicName"), Value: value.Buf([]byte(topicFilter))},
		{Key: []byte("qos"), Value: value.I64(int64(qos))},
	})
	return c.Subscribe(opSubscribeToIoTCore, smtGeneric, params, true, cb)
}

// SubscribeToConfigurationUpdate opens a subscription that fires
// whenever component's configuration changes under keyPath. Event
// payloads decode to {componentName: buf, keyPath: list<buf>}.
func (c *Connection) SubscribeToConfigurationUpdate(component string, keyPath []string, cb SubscriptionCallback) (Handle, error) {
	params := value.Map([]value.Pair{
		{Key: []byte("componentName"), Value: value.Buf([]byte(component))},
		{Key: []byte("keyPath"), Value: stringList(keyPath)},
	})
	return c.Subscribe(opSubscribeToConfigurationUpdate, smtGeneric, params, false, cb)
}

// errOrRemote normalizes Call's (err, remoteErr) pair into a single
// error: when err already carries a Remote code, its RemoteError detail
// is attached so callers can recover it with AsRemoteError.
func errOrRemote(err error, remote *RemoteError) error {
	if err == nil {
		return nil
	}
	if remote == nil {
		return err
	}
	if ipcErr, ok := err.(*Error); ok {
		return &remoteCallError{Error: ipcErr, Remote: remote}
	}
	return err
}

// remoteCallError wraps an *Error with its RemoteError detail so callers
// can recover both the taxonomy code and the server's own error code via
// a single return value.
type remoteCallError struct {
	*Error
	Remote *RemoteError
}

// AsRemoteError reports whether err carries server-side RemoteError
// detail (set when a unary call fails on an APPLICATION_ERROR frame) and
// returns it.
func AsRemoteError(err error) (*RemoteError, bool) {
	rce, ok := err.(*remoteCallError)
	if !ok {
		return nil, false
	}
	return rce.Remote, true
}
