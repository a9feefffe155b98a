package tlmbox

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

// ReleaseMode says how a buffer goes back to the coprocessor.
type ReleaseMode int

const (
	// ReleaseFreeQueue stages the buffer for the shared free-buffer queue.
	ReleaseFreeQueue ReleaseMode = iota
	// ReleaseAck writes an acknowledge record in place and clears the
	// channel flag the buffer arrived on.
	ReleaseAck
)

func (m ReleaseMode) String() string {
	switch m {
	case ReleaseFreeQueue:
		return "free-queue"
	case ReleaseAck:
		return "ack"
	default:
		return fmt.Sprintf("ReleaseMode(%d)", int(m))
	}
}

// bufferOwner is a span of equal buffers with one release policy.
type bufferOwner struct {
	name   string
	start  shm.Addr
	count  int
	stride int
	mode   ReleaseMode
	ack    func(shm.Addr)
	// seed marks pools whose buffers start out on the free queue.
	seed bool
}

func (o *bufferOwner) owns(a shm.Addr) bool {
	if a < o.start || a >= o.start.Add(o.count*o.stride) {
		return false
	}
	return int(a-o.start)%o.stride == 0
}

// MemoryManager returns released event buffers to the coprocessor.
//
// Free-queue releases land in a core-local queue under the critical
// section. They move to the shared free-buffer queue only while the
// release channel is free, and the doorbell is rung after each flush; the
// coprocessor takes the shared queue and clears the flag. The shared queue
// is therefore never touched by both cores at once.
type MemoryManager struct {
	mem   *shm.Region
	core  *ipcc.Core
	cs    *sync.Mutex
	fatal func(error)

	freeQueue  LinkedList
	localQueue LinkedList
	owners     []bufferOwner
}

func newMemoryManager(mem *shm.Region, core *ipcc.Core, cs *sync.Mutex, l Layout, fatal func(error)) *MemoryManager {
	mm := &MemoryManager{
		mem:        mem,
		core:       core,
		cs:         cs,
		fatal:      fatal,
		freeQueue:  NewLinkedList(mem, l.FreeBufQueue),
		localQueue: NewLinkedList(mem, l.LocalFreeBufQueue),
	}
	mm.register(bufferOwner{name: "event pool", start: l.EvtPool, count: l.EvtPoolCount, stride: l.EvtBufferSize, seed: true})
	mm.register(bufferOwner{name: "traces pool", start: l.TracesPool, count: l.TracesPoolCount, stride: l.EvtBufferSize, seed: true})
	mm.register(bufferOwner{name: "sys spare", start: l.SysSpareEvtBuf, count: 1, stride: SpareEvtBufferSize})
	mm.register(bufferOwner{name: "ble spare", start: l.BleSpareEvtBuf, count: 1, stride: SpareEvtBufferSize})
	mm.register(bufferOwner{name: "command status", start: l.CsBuffer, count: 1, stride: CsBufferSize})
	return mm
}

func (mm *MemoryManager) register(o bufferOwner) {
	mm.owners = append(mm.owners, o)
}

func (mm *MemoryManager) lookup(a shm.Addr) (*bufferOwner, bool) {
	for i := range mm.owners {
		if mm.owners[i].owns(a) {
			return &mm.owners[i], true
		}
	}
	return nil, false
}

// Classify returns the release policy for the buffer at a.
func (mm *MemoryManager) Classify(a shm.Addr) (ReleaseMode, bool) {
	o, ok := mm.lookup(a)
	if !ok {
		return 0, false
	}
	return o.mode, true
}

// init seeds the shared free queue with every pool buffer in address
// order and empties the local queue. It runs before the coprocessor boots.
func (mm *MemoryManager) init() {
	mm.freeQueue.Init()
	mm.localQueue.Init()
	for _, o := range mm.owners {
		if !o.seed {
			continue
		}
		for i := 0; i < o.count; i++ {
			mm.freeQueue.InsertTail(o.start.Add(i * o.stride))
		}
	}
}

// newEvtBox wraps a received buffer. It reports false, after invoking the
// fatal handler, when no pool owns the address.
func (mm *MemoryManager) newEvtBox(a shm.Addr) (*EvtBox, bool) {
	o, ok := mm.lookup(a)
	if !ok {
		err := fmt.Errorf("%w: %v", ErrUnknownBuffer, a)
		Logger().Error("received buffer outside every pool", zap.Stringer("addr", a))
		mm.fatal(err)
		return nil, false
	}
	return newEvtBox(mm.mem, a, o.stride, mm), true
}

func (mm *MemoryManager) release(a shm.Addr) {
	mm.evtHandled(a)
}

// evtHandled returns the buffer at a to the coprocessor according to the
// policy of the pool that owns it. It runs only from EvtBox.Close, which
// guarantees one reclaim per received buffer.
func (mm *MemoryManager) evtHandled(a shm.Addr) {
	o, ok := mm.lookup(a)
	if !ok {
		Logger().Error("release of buffer outside every pool", zap.Stringer("addr", a))
		mm.fatal(fmt.Errorf("%w: %v", ErrUnknownBuffer, a))
		return
	}
	switch o.mode {
	case ReleaseAck:
		Logger().Debug("ack release", zap.String("owner", o.name), zap.Stringer("addr", a))
		o.ack(a)
	default:
		mm.provideFreeBuffer(a)
	}
}

// provideFreeBuffer returns the buffer at a to the coprocessor. It goes
// straight to the shared free queue when the release channel is free and
// is staged locally otherwise, to be flushed from the TX-free interrupt.
func (mm *MemoryManager) provideFreeBuffer(a shm.Addr) {
	mm.cs.Lock()
	defer mm.cs.Unlock()
	mm.localQueue.InsertTail(a)
	if mm.core.IsTxActive(ChannelMmReleaseBuffer) {
		Logger().Debug("buffer staged", zap.Stringer("addr", a))
		mm.core.SetTxInterrupt(ChannelMmReleaseBuffer, true)
		return
	}
	mm.flushLocked()
}

// onTxFree runs from the dispatcher when the release channel is free.
func (mm *MemoryManager) onTxFree() {
	mm.cs.Lock()
	defer mm.cs.Unlock()
	if mm.core.IsTxActive(ChannelMmReleaseBuffer) {
		return
	}
	mm.flushLocked()
}

// flushLocked moves the local queue to the shared one and rings the
// release doorbell. The caller holds cs and has seen the channel free.
func (mm *MemoryManager) flushLocked() {
	n := 0
	for {
		a, ok := mm.localQueue.RemoveHead()
		if !ok {
			break
		}
		mm.freeQueue.InsertTail(a)
		n++
	}
	mm.core.SetTxInterrupt(ChannelMmReleaseBuffer, false)
	if n > 0 {
		Logger().Debug("free buffers flushed", zap.Int("count", n))
		mm.core.SetFlag(ChannelMmReleaseBuffer)
	}
}

// Pending returns the number of buffers staged locally.
func (mm *MemoryManager) Pending() int {
	mm.cs.Lock()
	defer mm.cs.Unlock()
	return mm.localQueue.Len()
}

// isStaged reports whether a sits in the local or the shared free queue.
func (mm *MemoryManager) isStaged(a shm.Addr) bool {
	mm.cs.Lock()
	defer mm.cs.Unlock()
	return mm.localQueue.Contains(a) || (!mm.core.IsTxActive(ChannelMmReleaseBuffer) && mm.freeQueue.Contains(a))
}
