package mqtt

// pendingMsg is a serialized publish held for replay after reconnection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues publishes while the broker is unreachable. Events and
// faults are kept in order; a retained message replaces any earlier
// retained message on the same topic, since only the last telemetry
// snapshot or system status matters to a subscriber. When full the oldest
// entry is dropped. Not safe for concurrent use.
type outbox struct {
	msgs     []pendingMsg
	capacity int
	dropped  int // since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{capacity: capacity}
}

// push queues msg. It returns true on the first drop after a drain so the
// caller can log once per outage.
func (o *outbox) push(msg pendingMsg) (firstDrop bool) {
	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}
	if len(o.msgs) == o.capacity {
		o.msgs = o.msgs[1:]
		o.dropped++
		firstDrop = o.dropped == 1
	}
	o.msgs = append(o.msgs, msg)
	return firstDrop
}

// drain returns the queued messages oldest first and how many were dropped
// to make room, then empties the outbox.
func (o *outbox) drain() ([]pendingMsg, int) {
	out, dropped := o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	return out, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
