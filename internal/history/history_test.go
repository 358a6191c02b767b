package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type closingSink struct {
	closed bool
	err    error
}

func (c *closingSink) Send(context.Context, Event) error { return nil }
func (c *closingSink) Close() error {
	c.closed = true
	return c.err
}

type plainSink struct{}

func (plainSink) Send(context.Context, Event) error { return nil }

func TestEventJSON(t *testing.T) {
	e := Event{
		Type:       EventTransition,
		OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Run:        Run{ID: "r1", From: "gating", To: "launching", PID: 0, Command: "uvicorn"},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "transition" {
		t.Errorf("type = %v", m["type"])
	}
	run := m["run"].(map[string]any)
	if run["to"] != "launching" {
		t.Errorf("run.to = %v", run["to"])
	}
	if _, ok := run["detail"]; ok {
		t.Errorf("empty detail should be omitted")
	}
}

func TestCloseAll(t *testing.T) {
	a := &closingSink{}
	b := &closingSink{err: errors.New("close failed")}
	err := CloseAll([]Sink{a, plainSink{}, b})
	if err == nil {
		t.Fatal("expected joined close error")
	}
	if !a.closed || !b.closed {
		t.Fatalf("every closer should be closed: a=%v b=%v", a.closed, b.closed)
	}
	if err := CloseAll(nil); err != nil {
		t.Fatalf("CloseAll(nil) = %v", err)
	}
}
