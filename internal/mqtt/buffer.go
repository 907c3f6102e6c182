package mqtt

// message is a serialized publish waiting for the broker.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages while the broker is unreachable. When it is full
// the oldest QoS 0 message (a level event) makes room; lifecycle messages
// at QoS 1 are only evicted when nothing else is queued. Callers serialize
// access.
type outbox struct {
	msgs    []message
	limit   int
	evicted int // since the last take
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

// add queues m. When the outbox is full one message is evicted and
// returned with ok set; that may be m itself.
func (o *outbox) add(m message) (dropped message, ok bool) {
	if len(o.msgs) < o.limit {
		o.msgs = append(o.msgs, m)
		return message{}, false
	}
	o.evicted++

	victim := -1
	for i, q := range o.msgs {
		if q.qos == 0 {
			victim = i
			break
		}
	}
	if victim < 0 {
		if m.qos == 0 {
			return m, true
		}
		victim = 0
	}
	dropped = o.msgs[victim]
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	o.msgs = append(o.msgs, m)
	return dropped, true
}

// take empties the outbox. It returns the queued messages oldest first and
// how many were evicted since the previous take.
func (o *outbox) take() ([]message, int) {
	msgs, evicted := o.msgs, o.evicted
	o.msgs, o.evicted = nil, 0
	return msgs, evicted
}

func (o *outbox) len() int {
	return len(o.msgs)
}
