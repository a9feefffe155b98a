package tlmbox

import (
	"fmt"

	"github.com/xll-gen/tlmbox/shm"
)

// Pool is a contiguous arena of equal buffers whose free list is a
// LinkedList. The free-list sentinel lives outside the arena.
type Pool struct {
	name   string
	mem    *shm.Region
	start  shm.Addr
	count  int
	stride int
	free   LinkedList
}

// NewPool describes an arena of count buffers of stride bytes starting at
// start, with its free-list sentinel at freeHead. It does not touch memory.
func NewPool(name string, mem *shm.Region, start shm.Addr, count, stride int, freeHead shm.Addr) (*Pool, error) {
	switch {
	case count <= 0:
		return nil, fmt.Errorf("tlmbox: pool %s: count %d must be positive", name, count)
	case stride < PacketHeaderSize || stride%4 != 0:
		return nil, fmt.Errorf("tlmbox: pool %s: stride %d must be a word multiple of at least %d", name, stride, PacketHeaderSize)
	case start%4 != 0:
		return nil, fmt.Errorf("tlmbox: pool %s: start %v is not word aligned", name, start)
	case !mem.Contains(start, count*stride):
		return nil, fmt.Errorf("tlmbox: pool %s: arena %v+%d outside region", name, start, count*stride)
	case !mem.Contains(freeHead, PacketHeaderSize):
		return nil, fmt.Errorf("tlmbox: pool %s: sentinel %v outside region", name, freeHead)
	case freeHead >= start && freeHead < start.Add(count*stride):
		return nil, fmt.Errorf("tlmbox: pool %s: sentinel %v inside arena", name, freeHead)
	}
	return &Pool{
		name:   name,
		mem:    mem,
		start:  start,
		count:  count,
		stride: stride,
		free:   NewLinkedList(mem, freeHead),
	}, nil
}

// Name returns the pool name used in errors and logs.
func (p *Pool) Name() string { return p.name }

// Start returns the arena address.
func (p *Pool) Start() shm.Addr { return p.start }

// Cap returns the number of buffers in the arena.
func (p *Pool) Cap() int { return p.count }

// BufferSize returns the size of one buffer.
func (p *Pool) BufferSize() int { return p.stride }

// Size returns the arena size in bytes.
func (p *Pool) Size() int { return p.count * p.stride }

// Buffer returns the address of buffer i.
func (p *Pool) Buffer(i int) shm.Addr {
	return p.start.Add(i * p.stride)
}

// Contains reports whether a is the start of one of the arena's buffers.
func (p *Pool) Contains(a shm.Addr) bool {
	if a < p.start || a >= p.start.Add(p.Size()) {
		return false
	}
	return int(a-p.start)%p.stride == 0
}

// Seed empties the free list and then links every buffer in address order.
func (p *Pool) Seed() {
	p.free.Init()
	for i := 0; i < p.count; i++ {
		p.free.InsertTail(p.Buffer(i))
	}
}

// Reset empties the free list without touching the arena.
func (p *Pool) Reset() {
	p.free.Init()
}

// TryClaim removes the oldest free buffer.
func (p *Pool) TryClaim() (shm.Addr, bool) {
	return p.free.RemoveHead()
}

// Claim is TryClaim for callers that sized the pool for their worst case.
// It panics with a *CapacityError when the pool is empty.
func (p *Pool) Claim() shm.Addr {
	a, ok := p.TryClaim()
	if !ok {
		panic(&CapacityError{Resource: p.name, Capacity: p.count, Err: ErrPoolExhausted})
	}
	return a
}

// Release puts buffer a back on the free list. It panics if a is not a
// buffer of this pool.
func (p *Pool) Release(a shm.Addr) {
	if !p.Contains(a) {
		panic(fmt.Sprintf("tlmbox: pool %s: release of foreign address %v", p.name, a))
	}
	p.free.InsertTail(a)
}

// Free counts the buffers on the free list.
func (p *Pool) Free() int {
	return p.free.Len()
}

// IsFree reports whether buffer a is on the free list.
func (p *Pool) IsFree(a shm.Addr) bool {
	return p.free.Contains(a)
}
