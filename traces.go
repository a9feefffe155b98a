package tlmbox

import "context"

// Traces is the coprocessor's trace channel.
type Traces struct {
	m      *TlMbox
	queue  LinkedList
	events *EventQueue
}

func newTraces(m *TlMbox) *Traces {
	l := m.layout
	t := &Traces{
		m:      m,
		queue:  NewLinkedList(m.mem, l.TracesEvtQueue),
		events: newEventQueue("traces", m.cfg.TracesEventQueueCapacity),
	}
	t.queue.Init()
	TracesTable{TracesQueue: l.TracesEvtQueue}.Store(m.mem, l.TracesTable)
	m.irq.onRx(ChannelTraces, t.onRx)
	return t
}

func (t *Traces) onRx() {
	t.m.drain("traces", t.queue, ChannelTraces, func(evt *EvtBox) {
		t.m.deliver(t.events, evt)
	})
}

// Events returns the queue of trace records.
func (t *Traces) Events() *EventQueue { return t.events }

// Recv returns the next trace record.
func (t *Traces) Recv(ctx context.Context) (*EvtBox, error) {
	return t.events.Recv(ctx)
}
