//go:build integration

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

type builtEvent struct {
	UserID  string `json:"user_id"`
	Disease string `json:"disease"`
}

func TestNATS_PubSub(t *testing.T) {
	nc := connectNATS(t)

	ch := make(chan builtEvent, 1)
	sub, err := Subscribe(nc, "integ.explanation.built", nil, func(_ context.Context, m builtEvent) {
		ch <- m
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "integ.explanation.built", builtEvent{UserID: "42", Disease: "heart disease"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.UserID != "42" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNATS_ConsumeDeadLetters(t *testing.T) {
	nc := connectNATS(t)

	dlq := make(chan DeadLetter, 1)
	dsub, err := Subscribe(nc, "integ.explain.dlq", nil, func(_ context.Context, d DeadLetter) { dlq <- d })
	if err != nil {
		t.Fatal(err)
	}
	defer dsub.Unsubscribe()

	sub, err := Consume(nc, "integ.explain", ConsumeOpts{MaxAttempts: 3, DLQSubject: "integ.explain.dlq"},
		func(context.Context, builtEvent) error { return errors.New("always fails") })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	data, _ := json.Marshal(builtEvent{UserID: "9"})
	if err := nc.Publish("integ.explain", data); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-dlq:
		if got.Attempts != 3 {
			t.Fatalf("attempts = %d", got.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for dead letter")
	}
}
