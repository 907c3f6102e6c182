package mqtt

import (
	"strings"
	"testing"
)

func levelMsg(p string) message  { return message{topic: "amp/events", payload: []byte(p)} }
func systemMsg(p string) message { return message{topic: "amp/system", payload: []byte(p), qos: 1, retained: true} }

func payloads(msgs []message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = string(m.payload)
	}
	return strings.Join(parts, ",")
}

func TestOutboxTakeEmpty(t *testing.T) {
	o := newOutbox(4)
	msgs, evicted := o.take()
	if len(msgs) != 0 || evicted != 0 {
		t.Errorf("empty take: got %d messages, %d evicted", len(msgs), evicted)
	}
}

func TestOutboxKeepsOrderUnderLimit(t *testing.T) {
	o := newOutbox(4)
	o.add(systemMsg("startup"))
	o.add(levelMsg("on"))
	o.add(levelMsg("off"))

	if o.len() != 3 {
		t.Fatalf("len: got %d, want 3", o.len())
	}
	msgs, evicted := o.take()
	if got := payloads(msgs); got != "startup,on,off" {
		t.Errorf("order: got %s", got)
	}
	if evicted != 0 {
		t.Errorf("evicted: got %d, want 0", evicted)
	}
	if o.len() != 0 {
		t.Errorf("len after take: got %d", o.len())
	}
}

func TestOutboxEvictsOldestLevelFirst(t *testing.T) {
	o := newOutbox(3)
	o.add(systemMsg("startup"))
	o.add(levelMsg("on"))
	o.add(levelMsg("off"))

	dropped, ok := o.add(levelMsg("on2"))
	if !ok || string(dropped.payload) != "on" {
		t.Fatalf("dropped: got %q ok=%v, want on", dropped.payload, ok)
	}
	dropped, ok = o.add(systemMsg("heartbeat"))
	if !ok || string(dropped.payload) != "off" {
		t.Fatalf("dropped: got %q ok=%v, want off", dropped.payload, ok)
	}

	msgs, evicted := o.take()
	if got := payloads(msgs); got != "startup,on2,heartbeat" {
		t.Errorf("kept: got %s", got)
	}
	if evicted != 2 {
		t.Errorf("evicted: got %d, want 2", evicted)
	}
}

func TestOutboxLevelDroppedWhenOnlySystemQueued(t *testing.T) {
	o := newOutbox(2)
	o.add(systemMsg("startup"))
	o.add(systemMsg("heartbeat"))

	dropped, ok := o.add(levelMsg("on"))
	if !ok || dropped.topic != "amp/events" {
		t.Fatalf("incoming level should be dropped, got %+v ok=%v", dropped, ok)
	}
	msgs, _ := o.take()
	if got := payloads(msgs); got != "startup,heartbeat" {
		t.Errorf("kept: got %s", got)
	}
}

func TestOutboxSystemEvictsOldestSystem(t *testing.T) {
	o := newOutbox(2)
	o.add(systemMsg("startup"))
	o.add(systemMsg("hb1"))

	dropped, ok := o.add(systemMsg("hb2"))
	if !ok || string(dropped.payload) != "startup" {
		t.Fatalf("dropped: got %q ok=%v, want startup", dropped.payload, ok)
	}
	msgs, _ := o.take()
	if got := payloads(msgs); got != "hb1,hb2" {
		t.Errorf("kept: got %s", got)
	}
}

func TestOutboxEvictionCountResetsOnTake(t *testing.T) {
	o := newOutbox(1)
	o.add(levelMsg("a"))
	o.add(levelMsg("b"))
	if _, evicted := o.take(); evicted != 1 {
		t.Fatalf("first outage evicted: got %d, want 1", evicted)
	}

	o.add(levelMsg("c"))
	msgs, evicted := o.take()
	if evicted != 0 || payloads(msgs) != "c" {
		t.Errorf("second outage: got %s with %d evicted", payloads(msgs), evicted)
	}
}
