package tlmbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Ble is the BLE channel: HCI commands, their outcomes, ACL data and
// asynchronous HCI events.
type Ble struct {
	m       *TlMbox
	queue   LinkedList
	events  *EventQueue
	cmd     *sender
	acl     *sender
	outcome *Signal[CommandOutcome]
}

func newBle(m *TlMbox) *Ble {
	l := m.layout
	b := &Ble{
		m:       m,
		queue:   NewLinkedList(m.mem, l.EvtQueue),
		events:  newEventQueue("ble", m.cfg.BleEventQueueCapacity),
		cmd:     newSender("ble cmd", m.core, ChannelBleCmd),
		acl:     newSender("hci acl", m.core, ChannelHciAclData),
		outcome: NewSignal[CommandOutcome](),
	}
	b.queue.Init()
	BleTable{
		CmdBuffer:        l.BleCmdBuffer,
		CsBuffer:         l.CsBuffer,
		EvtQueue:         l.EvtQueue,
		HciAclDataBuffer: l.HciAclDataBuffer,
	}.Store(m.mem, l.BleTable)

	m.irq.onRx(ChannelBleEvent, b.onRx)
	m.irq.onTx(ChannelBleCmd, b.cmd.onTxFree)
	m.irq.onTx(ChannelHciAclData, b.acl.onTxFree)
	return b
}

func (b *Ble) onRx() {
	b.m.drain("ble", b.queue, ChannelBleEvent, b.route)
}

// route sends command outcomes to the single-slot mailbox and everything
// else to the event queue. A malformed outcome goes to the event queue so
// the reader sees the decode error.
func (b *Ble) route(evt *EvtBox) {
	stub := evt.Stub()
	if stub.EvtCode != EvtCodeCommandComplete && stub.EvtCode != EvtCodeCommandStatus {
		b.m.deliver(b.events, evt)
		return
	}
	p, err := evt.Payload()
	var out CommandOutcome
	if err == nil {
		out, err = decodeOutcome(stub.EvtCode, p)
	}
	if err != nil {
		b.m.warnMalformed("ble", err)
		b.m.deliver(b.events, evt)
		return
	}
	evt.Close()
	Logger().Debug("command outcome", zap.Uint8("evt_code", out.EvtCode), zap.Uint16("opcode", out.Opcode))
	b.outcome.Signal(out)
}

// TlWrite writes an HCI command into the command buffer once the
// coprocessor has released it, and rings the doorbell.
func (b *Ble) TlWrite(ctx context.Context, opcode uint16, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: ble command payload %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return b.cmd.send(ctx, func() error {
		return WriteCmdPacket(b.m.mem, b.m.layout.BleCmdBuffer, TypeBleCmd, opcode, payload)
	})
}

// WaitCommandOutcome returns the latest command complete or command status
// outcome. An outcome not taken before the next one arrives is lost.
func (b *Ble) WaitCommandOutcome(ctx context.Context) (CommandOutcome, error) {
	return b.outcome.Wait(ctx)
}

// Command sends an HCI command and waits for its outcome. It returns
// ErrOutcomeMismatch, along with the outcome, if the outcome names another
// opcode. Only one Command may be in flight.
func (b *Ble) Command(ctx context.Context, opcode uint16, payload []byte) (CommandOutcome, error) {
	b.outcome.Reset()
	if err := b.TlWrite(ctx, opcode, payload); err != nil {
		return CommandOutcome{}, err
	}
	out, err := b.outcome.Wait(ctx)
	if err != nil {
		return CommandOutcome{}, err
	}
	if out.Opcode != opcode {
		return out, fmt.Errorf("%w: got 0x%04x, sent 0x%04x", ErrOutcomeMismatch, out.Opcode, opcode)
	}
	return out, nil
}

// AclWrite writes HCI ACL data into the data buffer once it is free and
// rings the doorbell.
func (b *Ble) AclWrite(ctx context.Context, handle uint16, data []byte) error {
	if len(data) > MaxAclDataSize {
		return fmt.Errorf("%w: acl data %d > %d", ErrPayloadTooLarge, len(data), MaxAclDataSize)
	}
	return b.acl.send(ctx, func() error {
		return WriteAclDataPacket(b.m.mem, b.m.layout.HciAclDataBuffer, handle, data)
	})
}

// AclBufferFree reports whether the coprocessor has released the ACL buffer.
func (b *Ble) AclBufferFree() bool {
	return !b.m.core.IsTxActive(ChannelHciAclData)
}

// Events returns the queue of asynchronous HCI events.
func (b *Ble) Events() *EventQueue { return b.events }

// Recv returns the next asynchronous HCI event.
func (b *Ble) Recv(ctx context.Context) (*EvtBox, error) {
	return b.events.Recv(ctx)
}
