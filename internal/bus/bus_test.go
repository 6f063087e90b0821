package bus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func marshalPayload(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	return json.RawMessage(b), err
}

func unmarshalPayload(data json.RawMessage, v interface{}) error {
	return json.Unmarshal(data, v)
}

func TestContainerIsolation(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var receivedByB []Received
	var receivedByC []Received

	subB := b.Subscribe("default", func(r Received) {
		mu.Lock()
		receivedByB = append(receivedByB, r)
		mu.Unlock()
	})
	defer subB.Close()

	subC := b.Subscribe("work", func(r Received) {
		mu.Lock()
		receivedByC = append(receivedByC, r)
		mu.Unlock()
	})
	defer subC.Close()

	selfA := b.Subscribe("default", func(Received) {}).id

	payload := CreatePayload{
		ID: "qt1", URL: "https://example.com",
		Left: 100, Top: 100, Width: 800, Height: 600,
		Container: "default",
	}
	if err := b.Publish("default", selfA, OpCreate, payload, "contextA", ""); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(receivedByB) != 1 || receivedByB[0].Op != OpCreate {
		t.Fatalf("expected context B to observe qt1, got %+v", receivedByB)
	}
	if len(receivedByC) != 0 {
		t.Fatalf("expected context C (container work) to observe nothing, got %+v", receivedByC)
	}
}

func TestSelfWriteExcludedFromFanOut(t *testing.T) {
	b := New(nil)

	var got []Received
	var mu sync.Mutex
	var selfID int
	sub := b.Subscribe("default", func(r Received) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})
	defer sub.Close()
	selfID = sub.id

	err := b.Publish("default", selfID, OpCloseAll, EmptyPayload{}, "contextA", "")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Fatalf("expected publisher's own subscription to be excluded, got %+v", got)
	}
}

func TestValidateRejectsUnknownOp(t *testing.T) {
	b := New(nil)
	msg := Message{Type: "NOT_AN_OP", Data: []byte(`{}`), Origin: "contextA"}
	if err := b.Validate(msg); err == nil {
		t.Fatal("expected validation error for unknown op")
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	b := New(nil)
	data, _ := marshalPayload(CreatePayload{URL: "https://example.com", Container: "default"})
	msg := Message{Type: OpCreate, Data: data, Origin: "contextA"}
	if err := b.Validate(msg); err == nil {
		t.Fatal("expected validation error for CREATE missing id")
	}
}

func TestPublishInvalidPayloadEmitsNoDelivery(t *testing.T) {
	b := New(nil)
	var delivered bool
	sub := b.Subscribe("default", func(Received) { delivered = true })
	defer sub.Close()

	other := b.Subscribe("default", func(Received) {})
	defer other.Close()

	if err := b.Publish("default", other.ID(), OpClose, ClosePayload{}, "contextB", ""); err == nil {
		t.Fatal("expected schema validation to reject CLOSE with empty id")
	}
	if delivered {
		t.Fatal("handler must not fire for an invalid message")
	}
}

func TestValidTypedPayloadsRoundTripThroughPublish(t *testing.T) {
	b := New(nil)
	received := make(chan Received, 1)
	sub := b.Subscribe("default", func(r Received) { received <- r })
	defer sub.Close()
	self := b.Subscribe("default", func(Received) {}).id

	err := b.Publish("default", self, OpUpdatePosition, UpdatePositionPayload{ID: "qt1", Left: -50, Top: 10001}, "contextA", "")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case r := <-received:
		var p UpdatePositionPayload
		if err := unmarshalPayload(r.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.ID != "qt1" || p.Left != -50 || p.Top != 10001 {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}
