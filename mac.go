package tlmbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox/shm"
)

// Mac is the 802.15.4 MAC channel. Commands are answered in place in the
// command/response buffer. Notifications arrive one at a time in a
// dedicated buffer; closing the handle writes an acknowledge record there
// and hands the buffer back.
type Mac struct {
	m      *TlMbox
	cmd    *exchange
	notif  shm.Addr
	events *EventQueue
}

func newMac(m *TlMbox) *Mac {
	l := m.layout
	mac := &Mac{
		m:      m,
		notif:  l.MacNotifBuffer,
		events: newEventQueue("mac", m.cfg.MacEventQueueCapacity),
	}
	mac.cmd = newExchange("mac", m.mem, m.core, ChannelMacCmdRsp, l.MacCmdRspBuffer, TypeOtCmd, func(err error) {
		m.warnMalformed("mac", err)
	})
	MacTable{CmdRspBuffer: l.MacCmdRspBuffer, NotAckBuffer: l.MacNotifBuffer}.Store(m.mem, l.MacTable)
	m.mm.register(bufferOwner{
		name:   "mac notification",
		start:  l.MacNotifBuffer,
		count:  1,
		stride: l.EvtBufferSize,
		mode:   ReleaseAck,
		ack:    mac.ack,
	})

	m.irq.onRx(ChannelMacNotifAck, mac.onRx)
	m.irq.onTx(ChannelMacCmdRsp, mac.cmd.onTxFree)
	return mac
}

// onRx masks the channel until the notification is acknowledged, so the
// buffer is wrapped in exactly one handle.
func (mac *Mac) onRx() {
	mac.m.core.SetRxInterrupt(ChannelMacNotifAck, false)
	if evt, ok := mac.m.mm.newEvtBox(mac.notif); ok {
		mac.m.deliver(mac.events, evt)
	}
}

func (mac *Mac) ack(a shm.Addr) {
	if err := WriteCmdPacket(mac.m.mem, a, TypeOtAck, 0, nil); err != nil {
		Logger().Error("mac ack", zap.Error(err))
	}
	mac.m.core.ClearFlag(ChannelMacNotifAck)
	mac.m.core.SetRxInterrupt(ChannelMacNotifAck, true)
}

// WriteAndGetResponse sends a MAC command and waits for the response the
// coprocessor writes back into the command/response buffer.
func (mac *Mac) WriteAndGetResponse(ctx context.Context, opcode uint16, payload []byte) (CommandOutcome, error) {
	return mac.cmd.roundTrip(ctx, opcode, payload)
}

// Events returns the queue of MAC notifications.
func (mac *Mac) Events() *EventQueue { return mac.events }

// Recv returns the next MAC notification.
func (mac *Mac) Recv(ctx context.Context) (*EvtBox, error) {
	return mac.events.Recv(ctx)
}
