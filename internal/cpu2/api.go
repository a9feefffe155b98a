package cpu2

import (
	"context"

	"github.com/xll-gen/tlmbox"
	"github.com/xll-gen/tlmbox/shm"
)

// do runs fn on the firmware goroutine. Errors returned by fn halt the
// firmware as well as being returned to the caller.
func (f *Firmware) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	req := func() {
		err := fn()
		if err != nil {
			f.fail(err)
		}
		errc <- err
	}
	select {
	case f.reqs <- req:
	case <-f.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostBleEvent posts an HCI event from the event pool.
func (f *Firmware) PostBleEvent(ctx context.Context, evtCode uint8, payload []byte) error {
	return f.do(ctx, func() error {
		a, size, err := f.claim(f.evtPool, shm.Nil)
		if err != nil {
			return err
		}
		if err := tlmbox.WriteEvtPacket(f.mem, a, size, tlmbox.TypeBleEvt, evtCode, payload); err != nil {
			f.reclaim(a)
			return err
		}
		f.post(tlmbox.ChannelBleEvent, a)
		return nil
	})
}

// PostBleRecord claims an event pool buffer, lets write fill it as it
// likes, and posts it on the BLE channel.
func (f *Firmware) PostBleRecord(ctx context.Context, write func(mem *shm.Region, a shm.Addr, size int)) error {
	return f.do(ctx, func() error {
		a, size, err := f.claim(f.evtPool, shm.Nil)
		if err != nil {
			return err
		}
		write(f.mem, a, size)
		f.post(tlmbox.ChannelBleEvent, a)
		return nil
	})
}

// PostSysEvent posts an asynchronous system event.
func (f *Firmware) PostSysEvent(ctx context.Context, subEvt uint16, payload []byte) error {
	return f.do(ctx, func() error {
		return f.postSysEvent(subEvt, payload)
	})
}

// PostTrace posts a trace record from the trace pool.
func (f *Firmware) PostTrace(ctx context.Context, payload []byte) error {
	return f.do(ctx, func() error {
		a, size, err := f.claim(f.tracesPool, shm.Nil)
		if err != nil {
			return err
		}
		if err := tlmbox.WriteEvtPacket(f.mem, a, size, tlmbox.TypeTracesWl, tlmbox.EvtCodeVendorSpecific, payload); err != nil {
			f.reclaim(a)
			return err
		}
		f.post(tlmbox.ChannelTraces, a)
		return nil
	})
}

// PostMacNotification queues a notification. Notifications are written
// into the dedicated buffer one at a time, each after the previous one
// was acknowledged.
func (f *Firmware) PostMacNotification(ctx context.Context, payload []byte) error {
	return f.do(ctx, func() error {
		f.macPending = append(f.macPending, append([]byte(nil), payload...))
		f.flushMac()
		return nil
	})
}

// Stats is a snapshot of the firmware's buffer accounting.
type Stats struct {
	FreeEvtBuffers    int
	FreeTracesBuffers int
	SparesAvailable   int
	MacAcks           int
}

// Stats returns the current buffer accounting.
func (f *Firmware) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := f.do(ctx, func() error {
		s.FreeEvtBuffers = f.evtPool.Free()
		s.FreeTracesBuffers = f.tracesPool.Free()
		for _, ok := range f.spares {
			if ok {
				s.SparesAvailable++
			}
		}
		s.MacAcks = f.macAcks
		return nil
	})
	return s, err
}
