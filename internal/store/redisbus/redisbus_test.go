package redisbus

import (
	"encoding/json"
	"testing"
	"time"

	"collabhub/internal/broadcast"
	"collabhub/internal/events"
)

func TestHandleMessageIgnoresOwnInstance(t *testing.T) {
	local := broadcast.New()
	sub := local.Subscribe("doc-1", "observer")
	defer sub.Unsubscribe()

	b := &Bus{Local: local, instanceID: "self"}
	env := envelope{InstanceID: "self", Body: events.CollaborationEvent{DocumentID: "doc-1", Type: events.EventDocumentUpdated}}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b.handleMessage(string(payload))

	select {
	case got := <-sub.Events():
		t.Fatalf("expected no local delivery for a self-originated envelope, got %+v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandleMessageForwardsRemoteEvents(t *testing.T) {
	local := broadcast.New()
	sub := local.Subscribe("doc-1", "observer")
	defer sub.Unsubscribe()

	b := &Bus{Local: local, instanceID: "self"}
	env := envelope{
		InstanceID: "other",
		Body:       events.CollaborationEvent{DocumentID: "doc-1", Type: events.EventDocumentUpdated, SequenceNumber: 3},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b.handleMessage(string(payload))

	select {
	case got := <-sub.Events():
		if got.SequenceNumber != 3 {
			t.Fatalf("unexpected forwarded event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the remote event to be forwarded locally")
	}
}

func TestHandleMessageIgnoresMalformedPayload(t *testing.T) {
	local := broadcast.New()
	b := &Bus{Local: local, instanceID: "self"}
	b.handleMessage("not json")
}
