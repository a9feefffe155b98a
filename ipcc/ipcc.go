// Package ipcc models the inter-processor communication controller: the
// doorbell hardware between the application core (core 1) and the
// coprocessor (core 2).
//
// Each of the six channels carries one flag per direction. A core sets its
// flag to tell the peer that the shared resource behind the channel is
// ready; the peer clears it to hand the resource back. Flags carry no
// payload. Two interrupt lines per core report "RX occupied" (the peer set a
// flag on an unmasked channel) and "TX free" (the peer cleared one of our
// flags on an unmasked channel).
//
// Interrupt lines are edge-coalesced: a line holds at most one pending
// notification, so handlers must re-check the flags after every wake-up.
// A notification raised while a handler runs is kept pending and the
// handler runs again, so no doorbell is lost.
package ipcc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// NumChannels is the number of doorbell channels per direction.
const NumChannels = 6

// Channel identifies a doorbell channel, 1 through NumChannels.
type Channel uint8

// Valid reports whether c names a hardware channel.
func (c Channel) Valid() bool {
	return c >= 1 && c <= NumChannels
}

func (c Channel) bit() uint32 {
	if !c.Valid() {
		panic(fmt.Sprintf("ipcc: invalid channel %d", c))
	}
	return 1 << (c - 1)
}

// Channels returns every hardware channel in ascending order.
func Channels() []Channel {
	chs := make([]Channel, NumChannels)
	for i := range chs {
		chs[i] = Channel(i + 1)
	}
	return chs
}

// CoreID names one side of the controller.
type CoreID int

const (
	// Core1 is the application core.
	Core1 CoreID = iota
	// Core2 is the coprocessor.
	Core2
)

func (id CoreID) String() string {
	switch id {
	case Core1:
		return "cpu1"
	case Core2:
		return "cpu2"
	default:
		return "unknown"
	}
}

// ErrAlreadyEnabled is returned by Enable once the controller is running.
var ErrAlreadyEnabled = errors.New("ipcc: already enabled")

type coreState struct {
	// flags set by this core toward the peer (channel occupied)
	flags atomic.Uint32
	// interrupt enables, bit set = unmasked
	rxEnable atomic.Uint32
	txEnable atomic.Uint32

	rxIRQ chan struct{}
	txIRQ chan struct{}
}

// IPCC is the controller shared by both cores.
type IPCC struct {
	enabled atomic.Bool
	cores   [2]coreState

	boot     chan struct{}
	bootOnce sync.Once
}

// New returns a disabled controller with every flag clear and every
// interrupt masked.
func New() *IPCC {
	p := &IPCC{boot: make(chan struct{})}
	for i := range p.cores {
		p.cores[i].rxIRQ = make(chan struct{}, 1)
		p.cores[i].txIRQ = make(chan struct{}, 1)
	}
	return p
}

// Enable resets the controller and starts it. It succeeds once.
func (p *IPCC) Enable() error {
	if !p.enabled.CompareAndSwap(false, true) {
		return ErrAlreadyEnabled
	}
	for i := range p.cores {
		c := &p.cores[i]
		c.flags.Store(0)
		c.rxEnable.Store(0)
		c.txEnable.Store(0)
	}
	return nil
}

// Enabled reports whether Enable has run.
func (p *IPCC) Enabled() bool {
	return p.enabled.Load()
}

// ReleaseCore2 lets the coprocessor boot. Later calls do nothing.
func (p *IPCC) ReleaseCore2() {
	p.bootOnce.Do(func() { close(p.boot) })
}

// Core2Released is closed once ReleaseCore2 has been called.
func (p *IPCC) Core2Released() <-chan struct{} {
	return p.boot
}

// Core returns the view of the controller from one side.
func (p *IPCC) Core(id CoreID) *Core {
	if id != Core1 && id != Core2 {
		panic(fmt.Sprintf("ipcc: invalid core %d", id))
	}
	return &Core{p: p, id: id}
}

func raise(line chan struct{}) {
	select {
	case line <- struct{}{}:
	default:
	}
}

// Core is one side's register view of the controller.
type Core struct {
	p  *IPCC
	id CoreID
}

// ID returns which side this view belongs to.
func (c *Core) ID() CoreID { return c.id }

func (c *Core) self() *coreState { return &c.p.cores[c.id] }

func (c *Core) peer() *coreState { return &c.p.cores[1-c.id] }

// SetFlag marks ch occupied in this core's transmit direction and rings the
// peer's RX doorbell if the peer unmasked the channel.
func (c *Core) SetFlag(ch Channel) {
	b := ch.bit()
	c.self().flags.Or(b)
	if peer := c.peer(); peer.rxEnable.Load()&b != 0 {
		raise(peer.rxIRQ)
	}
}

// ClearFlag acknowledges the peer's flag on ch, handing the channel back,
// and rings the peer's TX-free doorbell if the peer unmasked it.
func (c *Core) ClearFlag(ch Channel) {
	b := ch.bit()
	peer := c.peer()
	peer.flags.And(^b)
	if peer.txEnable.Load()&b != 0 {
		raise(peer.txIRQ)
	}
}

// IsTxActive reports whether this core's flag on ch is still set, i.e. the
// peer has not yet consumed what was signalled.
func (c *Core) IsTxActive(ch Channel) bool {
	return c.self().flags.Load()&ch.bit() != 0
}

// IsRxActive reports whether the peer's flag on ch is set.
func (c *Core) IsRxActive(ch Channel) bool {
	return c.peer().flags.Load()&ch.bit() != 0
}

// SetRxInterrupt unmasks or masks the RX-occupied interrupt for ch.
// Unmasking a channel whose peer flag is already set raises the line.
func (c *Core) SetRxInterrupt(ch Channel, enabled bool) {
	b := ch.bit()
	s := c.self()
	if !enabled {
		s.rxEnable.And(^b)
		return
	}
	s.rxEnable.Or(b)
	if c.IsRxActive(ch) {
		raise(s.rxIRQ)
	}
}

// SetTxInterrupt unmasks or masks the TX-free interrupt for ch.
// Unmasking a channel that is already free raises the line.
func (c *Core) SetTxInterrupt(ch Channel, enabled bool) {
	b := ch.bit()
	s := c.self()
	if !enabled {
		s.txEnable.And(^b)
		return
	}
	s.txEnable.Or(b)
	if !c.IsTxActive(ch) {
		raise(s.txIRQ)
	}
}

// RxInterruptEnabled reports whether the RX-occupied interrupt of ch is
// unmasked.
func (c *Core) RxInterruptEnabled(ch Channel) bool {
	return c.self().rxEnable.Load()&ch.bit() != 0
}

// TxInterruptEnabled reports whether the TX-free interrupt of ch is
// unmasked.
func (c *Core) TxInterruptEnabled(ch Channel) bool {
	return c.self().txEnable.Load()&ch.bit() != 0
}

// RxIRQ is the RX-occupied interrupt line.
func (c *Core) RxIRQ() <-chan struct{} { return c.self().rxIRQ }

// TxIRQ is the TX-free interrupt line.
func (c *Core) TxIRQ() <-chan struct{} { return c.self().txIRQ }
