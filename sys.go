package tlmbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SysReadyType is the first payload byte of the ready event: which image
// the coprocessor is running.
type SysReadyType uint8

const (
	ReadyWirelessFw SysReadyType = 0x00
	ReadyFus        SysReadyType = 0x01
	ReadyNvmBackup  SysReadyType = 0x10
	ReadyNvmRestore SysReadyType = 0x11
)

func (t SysReadyType) String() string {
	switch t {
	case ReadyWirelessFw:
		return "wireless-fw"
	case ReadyFus:
		return "fus"
	case ReadyNvmBackup:
		return "nvm-backup"
	case ReadyNvmRestore:
		return "nvm-restore"
	default:
		return fmt.Sprintf("SysReadyType(0x%02x)", uint8(t))
	}
}

// Sys is the system channel: commands to the coprocessor's system layer
// and its asynchronous events.
type Sys struct {
	m      *TlMbox
	queue  LinkedList
	cmd    *exchange
	events *EventQueue
}

func newSys(m *TlMbox) *Sys {
	l := m.layout
	s := &Sys{
		m:      m,
		queue:  NewLinkedList(m.mem, l.SystemEvtQueue),
		events: newEventQueue("sys", m.cfg.SysEventQueueCapacity),
	}
	s.cmd = newExchange("sys", m.mem, m.core, ChannelSystemCmdRsp, l.SysCmdBuf, TypeSysCmd, func(err error) {
		m.warnMalformed("sys", err)
	})
	s.queue.Init()
	SysTable{CmdBuffer: l.SysCmdBuf, EvtQueue: l.SystemEvtQueue}.Store(m.mem, l.SysTable)

	m.irq.onRx(ChannelSystemEvent, s.onRx)
	m.irq.onTx(ChannelSystemCmdRsp, s.cmd.onTxFree)
	return s
}

func (s *Sys) onRx() {
	s.m.drain("sys", s.queue, ChannelSystemEvent, func(evt *EvtBox) {
		s.m.deliver(s.events, evt)
	})
}

// WriteAndGetResponse sends a system command and waits for the command
// complete event the coprocessor writes back into the command buffer.
// Commands are serialized; a cancelled wait leaves the command in flight
// and the next caller waits for it to finish.
func (s *Sys) WriteAndGetResponse(ctx context.Context, opcode uint16, payload []byte) (CommandOutcome, error) {
	return s.cmd.roundTrip(ctx, opcode, payload)
}

// Events returns the queue of asynchronous system events.
func (s *Sys) Events() *EventQueue { return s.events }

// Recv returns the next asynchronous system event.
func (s *Sys) Recv(ctx context.Context) (*EvtBox, error) {
	return s.events.Recv(ctx)
}

// WaitReady consumes system events until the ready event arrives and
// reports which image is running. Events received before it are released.
func (s *Sys) WaitReady(ctx context.Context) (SysReadyType, error) {
	for {
		evt, err := s.events.Recv(ctx)
		if err != nil {
			return 0, err
		}
		a, err := evt.AsynchEvt()
		if err == nil && a.SubEvtCode == SysSubEvtReady {
			t := ReadyWirelessFw
			if len(a.Payload) > 0 {
				t = SysReadyType(a.Payload[0])
			}
			evt.Close()
			Logger().Info("coprocessor ready", zap.Stringer("running", t))
			return t, nil
		}
		Logger().Warn("system event before ready dropped", zap.Stringer("kind", evt.Kind()), zap.Error(err))
		evt.Close()
	}
}
