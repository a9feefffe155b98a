// Package cpu2 plays the coprocessor against a published memory map. It
// finds every queue and buffer through the reference table, keeps its
// event buffers in private pools, answers commands and posts events,
// following the same doorbell discipline as the real firmware.
package cpu2

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox"
	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("cpu2: firmware stopped")

// Options configures the simulated firmware.
type Options struct {
	// RefTable is the fixed address of the reference table.
	RefTable shm.Addr
	// Scratch is at least 16 bytes of RAM private to the coprocessor.
	Scratch shm.Addr
	// BufferSize is the stride of the event and trace pools.
	BufferSize int

	ReadyType tlmbox.SysReadyType
	FwInfo    tlmbox.WirelessFwInfo

	// Handlers answer commands. Nil handlers reply with a command
	// complete event carrying a single success status byte.
	SysHandler func(tlmbox.CmdPacket) tlmbox.CommandOutcome
	BleHandler func(tlmbox.CmdPacket) tlmbox.CommandOutcome
	MacHandler func(tlmbox.CmdPacket) tlmbox.CommandOutcome

	Logger *zap.Logger
}

// DefaultFwInfo describes a 1.17.0 BLE stack.
var DefaultFwInfo = tlmbox.WirelessFwInfo{
	Version:    tlmbox.PackWirelessFwVersion(1, 17, 0, 0, 2),
	MemorySize: tlmbox.PackWirelessFwMemorySize(0, 32, 0, 60),
	BleInfo:    0x01,
}

// OptionsFor returns options matching the firmware's linker view of l.
func OptionsFor(l tlmbox.Layout) Options {
	return Options{
		RefTable:   l.RefTable,
		Scratch:    l.Cpu2Scratch,
		BufferSize: l.EvtBufferSize,
		ReadyType:  tlmbox.ReadyWirelessFw,
		FwInfo:     DefaultFwInfo,
	}
}

func success(cmd tlmbox.CmdPacket) tlmbox.CommandOutcome {
	return tlmbox.CommandOutcome{
		EvtCode: tlmbox.EvtCodeCommandComplete,
		NumCmd:  1,
		Opcode:  cmd.Opcode,
		Payload: []byte{0x00},
	}
}

type outbox struct {
	name    string
	queue   tlmbox.LinkedList
	pending []shm.Addr
}

// Firmware is the simulated coprocessor.
type Firmware struct {
	opts Options
	mem  *shm.Region
	ipcc *ipcc.IPCC
	core *ipcc.Core
	log  *zap.Logger

	ble    tlmbox.BleTable
	sys    tlmbox.SysTable
	mm     tlmbox.MemManagerTable
	traces tlmbox.TracesTable
	mac    tlmbox.MacTable

	freeQueue  tlmbox.LinkedList
	evtPool    *tlmbox.Pool
	tracesPool *tlmbox.Pool
	spares     map[shm.Addr]bool
	outboxes   map[ipcc.Channel]*outbox

	macPending     [][]byte
	macOutstanding bool
	macAcks        int

	err     error
	reqs    chan func()
	acl     chan tlmbox.AclDataPacket
	ready   chan struct{}
	stopped chan struct{}
}

// New returns firmware bound to mem and the controller p. It does nothing
// until Run.
func New(mem *shm.Region, p *ipcc.IPCC, opts Options) *Firmware {
	if opts.SysHandler == nil {
		opts.SysHandler = success
	}
	if opts.BleHandler == nil {
		opts.BleHandler = success
	}
	if opts.MacHandler == nil {
		opts.MacHandler = success
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Firmware{
		opts:    opts,
		mem:     mem,
		ipcc:    p,
		core:    p.Core(ipcc.Core2),
		log:     log.Named("cpu2"),
		reqs:    make(chan func()),
		acl:     make(chan tlmbox.AclDataPacket, 16),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Ready is closed once the firmware has booted and posted its ready event.
func (f *Firmware) Ready() <-chan struct{} { return f.ready }

// Acl delivers ACL packets written by the application core.
func (f *Firmware) Acl() <-chan tlmbox.AclDataPacket { return f.acl }

// Run waits for the application core to release the coprocessor, boots,
// and services doorbells until ctx is done. It returns the first fatal
// condition, such as an exhausted pool or a buffer released twice.
func (f *Firmware) Run(ctx context.Context) error {
	defer close(f.stopped)
	select {
	case <-f.ipcc.Core2Released():
	case <-ctx.Done():
		return nil
	}
	if err := f.boot(); err != nil {
		return err
	}
	close(f.ready)
	for f.err == nil {
		select {
		case <-ctx.Done():
			return nil
		case <-f.core.RxIRQ():
			f.serviceRx()
		case <-f.core.TxIRQ():
			f.serviceTx()
		case fn := <-f.reqs:
			fn()
		}
	}
	f.log.Error("firmware halted", zap.Error(f.err))
	return f.err
}

func (f *Firmware) fail(err error) error {
	if f.err == nil {
		f.err = err
	}
	return err
}

func (f *Firmware) boot() error {
	ref := tlmbox.LoadRefTable(f.mem, f.opts.RefTable)
	for name, a := range map[string]shm.Addr{
		"device info": ref.DeviceInfoTable,
		"ble":         ref.BleTable,
		"sys":         ref.SysTable,
		"mem manager": ref.MemManagerTable,
		"traces":      ref.TracesTable,
		"mac":         ref.MacTable,
	} {
		if a == shm.Nil {
			return fmt.Errorf("cpu2: reference table has no %s table", name)
		}
	}
	f.ble = tlmbox.LoadBleTable(f.mem, ref.BleTable)
	f.sys = tlmbox.LoadSysTable(f.mem, ref.SysTable)
	f.mm = tlmbox.LoadMemManagerTable(f.mem, ref.MemManagerTable)
	f.traces = tlmbox.LoadTracesTable(f.mem, ref.TracesTable)
	f.mac = tlmbox.LoadMacTable(f.mem, ref.MacTable)

	var err error
	f.evtPool, err = f.newPool("event pool", f.mm.BlePool, f.mm.BlePoolSize, f.opts.Scratch)
	if err != nil {
		return err
	}
	f.tracesPool, err = f.newPool("traces pool", f.mm.TracesEvtPool, f.mm.TracesPoolSize, f.opts.Scratch.Add(tlmbox.PacketHeaderSize))
	if err != nil {
		return err
	}
	f.spares = map[shm.Addr]bool{
		f.mm.SpareBleBuffer: true,
		f.mm.SpareSysBuffer: true,
		f.ble.CsBuffer:      true,
	}
	f.freeQueue = tlmbox.NewLinkedList(f.mem, f.mm.FreeBufQueue)
	f.outboxes = map[ipcc.Channel]*outbox{
		tlmbox.ChannelBleEvent:    {name: "ble", queue: tlmbox.NewLinkedList(f.mem, f.ble.EvtQueue)},
		tlmbox.ChannelSystemEvent: {name: "sys", queue: tlmbox.NewLinkedList(f.mem, f.sys.EvtQueue)},
		tlmbox.ChannelTraces:      {name: "traces", queue: tlmbox.NewLinkedList(f.mem, f.traces.TracesQueue)},
	}

	tlmbox.DeviceInfoTable{WirelessFw: f.opts.FwInfo}.Store(f.mem, ref.DeviceInfoTable)

	if f.core.IsRxActive(tlmbox.ChannelMmReleaseBuffer) {
		if err := f.takeFreeBuffers(); err != nil {
			return err
		}
	}
	for _, ch := range []ipcc.Channel{
		tlmbox.ChannelBleCmd,
		tlmbox.ChannelSystemCmdRsp,
		tlmbox.ChannelMacCmdRsp,
		tlmbox.ChannelMmReleaseBuffer,
		tlmbox.ChannelHciAclData,
	} {
		f.core.SetRxInterrupt(ch, true)
	}
	f.log.Info("booted",
		zap.Int("evt_buffers", f.evtPool.Free()),
		zap.Int("traces_buffers", f.tracesPool.Free()))
	return f.postSysEvent(tlmbox.SysSubEvtReady, []byte{uint8(f.opts.ReadyType)})
}

func (f *Firmware) newPool(name string, start shm.Addr, size uint32, sentinel shm.Addr) (*tlmbox.Pool, error) {
	stride := f.opts.BufferSize
	if stride <= 0 || int(size)%stride != 0 {
		return nil, fmt.Errorf("cpu2: %s of %d bytes is not a whole number of %d byte buffers", name, size, stride)
	}
	p, err := tlmbox.NewPool(name, f.mem, start, int(size)/stride, stride, sentinel)
	if err != nil {
		return nil, err
	}
	p.Reset()
	return p, nil
}

func (f *Firmware) serviceRx() {
	handlers := []struct {
		ch ipcc.Channel
		fn func() error
	}{
		{tlmbox.ChannelMmReleaseBuffer, f.takeFreeBuffers},
		{tlmbox.ChannelSystemCmdRsp, f.onSysCmd},
		{tlmbox.ChannelBleCmd, f.onBleCmd},
		{tlmbox.ChannelMacCmdRsp, f.onMacCmd},
		{tlmbox.ChannelHciAclData, f.onAcl},
	}
	for _, h := range handlers {
		if f.core.RxInterruptEnabled(h.ch) && f.core.IsRxActive(h.ch) {
			if err := h.fn(); err != nil {
				f.fail(err)
				return
			}
		}
	}
}

func (f *Firmware) serviceTx() {
	for ch := range f.outboxes {
		if f.core.TxInterruptEnabled(ch) && !f.core.IsTxActive(ch) {
			f.flush(ch)
		}
	}
	if f.core.TxInterruptEnabled(tlmbox.ChannelMacNotifAck) && !f.core.IsTxActive(tlmbox.ChannelMacNotifAck) {
		f.flushMac()
	}
}
