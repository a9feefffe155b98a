package cpu2

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox"
	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

// takeFreeBuffers moves the shared free queue into the private pools and
// hands the queue back.
func (f *Firmware) takeFreeBuffers() error {
	n := 0
	for {
		a, ok := f.freeQueue.RemoveHead()
		if !ok {
			break
		}
		if err := f.reclaim(a); err != nil {
			return err
		}
		n++
	}
	f.core.ClearFlag(tlmbox.ChannelMmReleaseBuffer)
	f.log.Debug("free buffers taken", zap.Int("count", n))
	return nil
}

func (f *Firmware) reclaim(a shm.Addr) error {
	for _, p := range []*tlmbox.Pool{f.evtPool, f.tracesPool} {
		if !p.Contains(a) {
			continue
		}
		if p.IsFree(a) {
			return fmt.Errorf("cpu2: %s buffer %v released twice", p.Name(), a)
		}
		p.Release(a)
		return nil
	}
	avail, ok := f.spares[a]
	switch {
	case !ok:
		return fmt.Errorf("cpu2: released buffer %v belongs to no pool", a)
	case avail:
		return fmt.Errorf("cpu2: spare buffer %v released twice", a)
	}
	f.spares[a] = true
	return nil
}

// claim takes a buffer from pool, falling back to spare when one is given
// and available.
func (f *Firmware) claim(pool *tlmbox.Pool, spare shm.Addr) (shm.Addr, int, error) {
	if a, ok := pool.TryClaim(); ok {
		return a, pool.BufferSize(), nil
	}
	if spare != shm.Nil && f.spares[spare] {
		f.spares[spare] = false
		return spare, f.bufferSize(spare), nil
	}
	return shm.Nil, 0, &tlmbox.CapacityError{Resource: pool.Name(), Capacity: pool.Cap(), Err: tlmbox.ErrPoolExhausted}
}

func (f *Firmware) bufferSize(a shm.Addr) int {
	switch {
	case a == f.ble.CsBuffer:
		return tlmbox.CsBufferSize
	case f.evtPool.Contains(a) || f.tracesPool.Contains(a):
		return f.opts.BufferSize
	default:
		return tlmbox.SpareEvtBufferSize
	}
}

// post queues a filled buffer for the application core and delivers it
// as soon as the channel is free.
func (f *Firmware) post(ch ipcc.Channel, a shm.Addr) {
	ob := f.outboxes[ch]
	ob.pending = append(ob.pending, a)
	f.flush(ch)
}

func (f *Firmware) flush(ch ipcc.Channel) {
	ob := f.outboxes[ch]
	if f.core.IsTxActive(ch) {
		if len(ob.pending) > 0 {
			f.core.SetTxInterrupt(ch, true)
		}
		return
	}
	f.core.SetTxInterrupt(ch, false)
	if len(ob.pending) == 0 {
		return
	}
	for _, a := range ob.pending {
		ob.queue.InsertTail(a)
	}
	f.log.Debug("events posted", zap.String("channel", ob.name), zap.Int("count", len(ob.pending)))
	ob.pending = ob.pending[:0]
	f.core.SetFlag(ch)
}

// flushMac writes the next notification once the application core has
// acknowledged the previous one.
func (f *Firmware) flushMac() {
	ch := tlmbox.ChannelMacNotifAck
	if f.core.IsTxActive(ch) {
		if len(f.macPending) > 0 {
			f.core.SetTxInterrupt(ch, true)
		}
		return
	}
	if f.macOutstanding {
		f.macOutstanding = false
		if ack := tlmbox.ReadCmdPacket(f.mem, f.mac.NotAckBuffer); ack.Type == tlmbox.TypeOtAck {
			f.macAcks++
		} else {
			f.log.Warn("notification released without ack", zap.Stringer("type", ack.Type))
		}
	}
	f.core.SetTxInterrupt(ch, false)
	if len(f.macPending) == 0 {
		return
	}
	payload := f.macPending[0]
	f.macPending = f.macPending[1:]
	if err := tlmbox.WriteEvtPacket(f.mem, f.mac.NotAckBuffer, f.opts.BufferSize, tlmbox.TypeOtNot, tlmbox.EvtCodeVendorSpecific, payload); err != nil {
		f.fail(err)
		return
	}
	f.macOutstanding = true
	f.core.SetFlag(ch)
	// Arm TX-free so the ack is seen and the next notification follows.
	f.core.SetTxInterrupt(ch, true)
}
