// Package tlmbox is the application-core side of a dual-core mailbox
// transport. Both cores share one memory region; the application core
// publishes a reference table at a fixed address describing every queue
// and buffer, and the cores hand buffers back and forth by setting and
// clearing IPCC doorbell flags.
//
// Ownership follows the flags. A queue or buffer behind a channel belongs
// to the core that last received it through the doorbell, and only that
// core reads or writes it.
package tlmbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

// TlMbox is the initialized transport. Every subsystem hangs off it, so
// holding a *TlMbox is proof that the memory map was published.
type TlMbox struct {
	cfg    Config
	layout Layout
	mem    *shm.Region
	ipcc   *ipcc.IPCC
	core   *ipcc.Core
	cs     sync.Mutex

	mm     *MemoryManager
	sys    *Sys
	ble    *Ble
	mac    *Mac
	traces *Traces

	irq     nvic
	limiter *catrate.Limiter

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Init publishes the memory map in mem, enables the doorbells, starts the
// interrupt dispatcher and lets the coprocessor boot. A peripheral can be
// initialized once; later calls return ErrAlreadyInitialized.
func Init(mem *shm.Region, p *ipcc.IPCC, cfg Config) (*TlMbox, error) {
	layout, err := NewLayout(cfg)
	if err != nil {
		return nil, err
	}
	if err := layout.Check(mem); err != nil {
		return nil, err
	}
	if err := p.Enable(); err != nil {
		if errors.Is(err, ipcc.ErrAlreadyEnabled) {
			return nil, ErrAlreadyInitialized
		}
		return nil, fmt.Errorf("tlmbox: enable ipcc: %w", err)
	}

	m := &TlMbox{
		cfg:     cfg,
		layout:  layout,
		mem:     mem,
		ipcc:    p,
		core:    p.Core(ipcc.Core1),
		limiter: catrate.NewLimiter(map[time.Duration]int{time.Second: 4, time.Minute: 32}),
		done:    make(chan struct{}),
	}
	m.irq.core = m.core

	mem.Zero(layout.Base(), layout.Size())

	m.mm = newMemoryManager(mem, m.core, &m.cs, layout, m.fatal)
	m.sys = newSys(m)
	m.ble = newBle(m)
	m.mac = newMac(m)
	m.traces = newTraces(m)
	m.mm.init()

	ThreadTable{}.Store(mem, layout.ThreadTable)
	MemManagerTable{
		SpareBleBuffer: layout.BleSpareEvtBuf,
		SpareSysBuffer: layout.SysSpareEvtBuf,
		BlePool:        layout.EvtPool,
		BlePoolSize:    uint32(layout.EvtPoolCount * layout.EvtBufferSize),
		FreeBufQueue:   layout.FreeBufQueue,
		TracesEvtPool:  layout.TracesPool,
		TracesPoolSize: uint32(layout.TracesPoolCount * layout.EvtBufferSize),
	}.Store(mem, layout.MemManagerTable)
	RefTable{
		DeviceInfoTable: layout.DeviceInfoTable,
		BleTable:        layout.BleTable,
		ThreadTable:     layout.ThreadTable,
		SysTable:        layout.SysTable,
		MemManagerTable: layout.MemManagerTable,
		TracesTable:     layout.TracesTable,
		MacTable:        layout.MacTable,
	}.Store(mem, layout.RefTable)
	shm.Fence()

	for _, ch := range []ipcc.Channel{ChannelSystemEvent, ChannelBleEvent, ChannelMacNotifAck, ChannelTraces} {
		m.core.SetRxInterrupt(ch, true)
	}
	m.irq.onTx(ChannelMmReleaseBuffer, m.mm.onTxFree)
	// The seeded free queue is handed over like any later flush.
	m.core.SetFlag(ChannelMmReleaseBuffer)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func() {
		defer close(m.done)
		m.irq.run(ctx)
	}()

	p.ReleaseCore2()
	Logger().Info("transport initialized",
		zap.Stringer("base", layout.Base()),
		zap.Int("size", layout.Size()),
		zap.Int("evt_pool", layout.EvtPoolCount),
		zap.Int("traces_pool", layout.TracesPoolCount))
	return m, nil
}

// Close stops the interrupt dispatcher and releases every queued event.
// It exists for tests and host tools; firmware never tears down.
func (m *TlMbox) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.done
		n := m.sys.events.drain() + m.ble.events.drain() + m.traces.events.drain() + m.mac.events.drain()
		Logger().Debug("transport closed", zap.Int("released", n))
	})
	return nil
}

// Layout returns the published memory map.
func (m *TlMbox) Layout() Layout { return m.layout }

// Region returns the shared memory region.
func (m *TlMbox) Region() *shm.Region { return m.mem }

// Sys returns the system channel.
func (m *TlMbox) Sys() *Sys { return m.sys }

// Ble returns the BLE channel.
func (m *TlMbox) Ble() *Ble { return m.ble }

// Mac returns the 802.15.4 MAC channel.
func (m *TlMbox) Mac() *Mac { return m.mac }

// Traces returns the trace channel.
func (m *TlMbox) Traces() *Traces { return m.traces }

// DeviceInfo reads the device information table. The coprocessor fills it
// in before it reports ready.
func (m *TlMbox) DeviceInfo() DeviceInfoTable {
	return LoadDeviceInfoTable(m.mem, m.layout.DeviceInfoTable)
}

// WirelessFwInfo returns the wireless stack part of DeviceInfo.
func (m *TlMbox) WirelessFwInfo() WirelessFwInfo {
	return m.DeviceInfo().WirelessFw
}

func (m *TlMbox) fatal(err error) {
	Logger().Error("fatal transport condition", zap.Error(err))
	m.cfg.fatal(err)
}

// warnMalformed logs a malformed record, at most a few times per window
// for each channel.
func (m *TlMbox) warnMalformed(channel string, err error) {
	if _, ok := m.limiter.Allow(channel); ok {
		Logger().Warn("malformed record", zap.String("channel", channel), zap.Error(err))
	}
}

// drain pops every buffer off q, routes it, and hands the queue back to
// the coprocessor by clearing the channel flag.
func (m *TlMbox) drain(name string, q LinkedList, ch ipcc.Channel, route func(*EvtBox)) {
	n := 0
	for {
		a, ok := q.RemoveHead()
		if !ok {
			break
		}
		n++
		if evt, ok := m.mm.newEvtBox(a); ok {
			route(evt)
		}
	}
	m.core.ClearFlag(ch)
	Logger().Debug("queue drained", zap.String("channel", name), zap.Int("count", n))
}

// deliver pushes evt onto q. A full queue means the queue was sized below
// the number of buffers that can be in flight; the handle is released and
// the fatal handler runs.
func (m *TlMbox) deliver(q *EventQueue, evt *EvtBox) {
	if q.tryPush(evt) {
		return
	}
	addr := evt.Addr()
	evt.Close()
	Logger().Error("event queue full", zap.String("queue", q.name), zap.Stringer("addr", addr), zap.Int("capacity", q.Cap()))
	m.cfg.fatal(&CapacityError{Resource: q.name + " event queue", Capacity: q.Cap(), Err: ErrQueueFull})
}
