package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	frame, err := Encode(EventUpdate, UpdatePayload{
		Content: "hello",
		FileID:  "default",
		UserID:  "user-a",
		Cursors: map[string]CursorEntry{"conn-1": {Offset: 5, UserID: "user-a"}},
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	envelope, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if envelope.Event != EventUpdate {
		t.Fatalf("expected %q, got %q", EventUpdate, envelope.Event)
	}

	var payload UpdatePayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if payload.Cursors["conn-1"].Offset != 5 {
		t.Fatalf("cursor lost in round trip: %+v", payload)
	}
}

func TestDecodeRejectsMissingEventName(t *testing.T) {
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Fatal("expected error for missing event name")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"event":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestErrorFrameCarriesMessage(t *testing.T) {
	envelope, err := Decode(ErrorFrame(MsgInvalidPassword))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if envelope.Event != EventError {
		t.Fatalf("expected error event, got %q", envelope.Event)
	}
	var message string
	if err := json.Unmarshal(envelope.Data, &message); err != nil {
		t.Fatalf("message decode failed: %v", err)
	}
	if message != MsgInvalidPassword {
		t.Fatalf("expected %q, got %q", MsgInvalidPassword, message)
	}
}
