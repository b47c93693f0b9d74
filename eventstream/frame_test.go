package eventstream

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	headers := []Header{
		HeaderInt32(":message-type", int32(MessageTypeApplicationMessage)),
		HeaderInt32(":message-flags", 0),
		HeaderInt32(":stream-id", 1),
		HeaderString("operation", "aws.greengrass#GetConfiguration"),
	}
	payload := []byte(`{"value":{"key":"Hello World!"}}`)

	frame, err := Encode(headers, payload, 10000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	prelude, err := DecodePrelude(frame[:12])
	if err != nil {
		t.Fatalf("DecodePrelude: %v", err)
	}

	msg, err := Decode(frame[:12], prelude, frame[12:])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if string(msg.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", msg.Payload, payload)
	}

	common, err := msg.CommonHeaders()
	if err != nil {
		t.Fatalf("CommonHeaders: %v", err)
	}
	if common.MessageType != MessageTypeApplicationMessage {
		t.Fatalf("MessageType = %v, want ApplicationMessage", common.MessageType)
	}
	if common.StreamID != 1 {
		t.Fatalf("StreamID = %d, want 1", common.StreamID)
	}

	h, ok, err := msg.FindHeader("operation")
	if err != nil {
		t.Fatalf("FindHeader: %v", err)
	}
	if !ok || h.String != "aws.greengrass#GetConfiguration" {
		t.Fatalf("operation header = %+v, ok=%v", h, ok)
	}
}

func TestDecodeRejectsCorruptPreludeCRC(t *testing.T) {
	headers := []Header{
		HeaderInt32(":message-type", int32(MessageTypePing)),
		HeaderInt32(":message-flags", 0),
		HeaderInt32(":stream-id", 0),
	}
	frame, err := Encode(headers, nil, 10000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frame[0] ^= 0xFF // corrupt total_len, prelude crc now mismatches

	if _, err := DecodePrelude(frame[:12]); err == nil {
		t.Fatal("expected prelude crc mismatch to be rejected")
	}
}

func TestDecodeRejectsCorruptMessageCRC(t *testing.T) {
	headers := []Header{
		HeaderInt32(":message-type", int32(MessageTypePing)),
		HeaderInt32(":message-flags", 0),
		HeaderInt32(":stream-id", 0),
	}
	frame, err := Encode(headers, []byte("payload"), 10000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frame[len(frame)-1] ^= 0xFF // corrupt trailing message crc byte

	prelude, err := DecodePrelude(frame[:12])
	if err != nil {
		t.Fatalf("DecodePrelude: %v", err)
	}
	if _, err := Decode(frame[:12], prelude, frame[12:]); err == nil {
		t.Fatal("expected message crc mismatch to be rejected")
	}
}

func TestEncodeOversizeFrame(t *testing.T) {
	headers := []Header{
		HeaderInt32(":message-type", int32(MessageTypeApplicationMessage)),
		HeaderInt32(":message-flags", 0),
		HeaderInt32(":stream-id", 1),
	}
	_, err := Encode(headers, make([]byte, 100), 20)
	if err != ErrOversizeFrame {
		t.Fatalf("err = %v, want ErrOversizeFrame", err)
	}
}

func TestHeaderFlags(t *testing.T) {
	f := FlagTerminateStream
	if !f.Has(FlagTerminateStream) {
		t.Fatal("expected flag to be set")
	}
	if MessageFlags(0).Has(FlagTerminateStream) {
		t.Fatal("expected zero flags to have nothing set")
	}
}
