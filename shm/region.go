// Package shm provides the memory shared between the application core and
// the coprocessor.
//
// Both cores address the region with 32-bit addresses (Addr) starting at a
// fixed base. Pointer fields stored inside the region are Addr values, never
// Go pointers, so the same bytes can be mapped by another process or handed
// to a simulator without translation.
package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Addr is a cross-core address. The zero value is the nil address.
type Addr uint32

// Nil is the null cross-core address.
const Nil Addr = 0

// AddrSize is the size of an address stored in shared memory.
const AddrSize = 4

// Add returns a+n.
func (a Addr) Add(n int) Addr {
	return a + Addr(n)
}

// String formats the address the way a memory map prints it.
func (a Addr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// FaultError reports an access outside the region or a misaligned word
// access. It is raised as a panic: on the target this is a bus fault.
type FaultError struct {
	Addr Addr
	Size int
	Msg  string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("shm: %s at %s (size %d)", e.Msg, e.Addr, e.Size)
}

// Region is a contiguous block of shared memory mapped at Base.
//
// Single-word accessors (Load32, Store32, Load8, Store8) are the only
// operations allowed on words that both cores may touch concurrently.
// Bytes returns a plain view for payload areas owned by one core.
type Region struct {
	base  Addr
	mem   []byte
	unmap func([]byte) error
}

// NewRegion wraps mem as a region starting at base.
//
// Parameters:
//   - base: address of mem[0] as seen by both cores. Must be 4-byte aligned.
//   - mem: backing memory. Its first byte must be 4-byte aligned.
func NewRegion(base Addr, mem []byte) (*Region, error) {
	if base == Nil {
		return nil, fmt.Errorf("shm: base address must not be nil")
	}
	if base%4 != 0 {
		return nil, fmt.Errorf("shm: base %s is not word aligned", base)
	}
	if len(mem) == 0 {
		return nil, fmt.Errorf("shm: empty region")
	}
	if uint64(base)+uint64(len(mem)) > 1<<32 {
		return nil, fmt.Errorf("shm: region of %d bytes at %s exceeds the 32-bit address space", len(mem), base)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		return nil, fmt.Errorf("shm: backing memory is not word aligned")
	}
	return &Region{base: base, mem: mem}, nil
}

// NewHeapRegion allocates a zeroed, word-aligned region on the Go heap.
func NewHeapRegion(base Addr, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", size)
	}
	words := make([]uint64, (size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return NewRegion(base, mem)
}

// Base returns the address of the first byte of the region.
func (r *Region) Base() Addr { return r.base }

// Size returns the size of the region in bytes.
func (r *Region) Size() int { return len(r.mem) }

// End returns the first address past the region.
func (r *Region) End() Addr { return r.base + Addr(len(r.mem)) }

// Contains reports whether [a, a+n) lies inside the region.
func (r *Region) Contains(a Addr, n int) bool {
	if a < r.base || n < 0 {
		return false
	}
	off := uint64(a - r.base)
	return off+uint64(n) <= uint64(len(r.mem))
}

func (r *Region) offset(a Addr, n int) int {
	if !r.Contains(a, n) {
		panic(&FaultError{Addr: a, Size: n, Msg: "access outside region"})
	}
	return int(a - r.base)
}

func (r *Region) word(a Addr) *uint32 {
	if a%4 != 0 {
		panic(&FaultError{Addr: a, Size: 4, Msg: "misaligned word access"})
	}
	off := r.offset(a, 4)
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

// Load32 performs a single-word volatile read.
func (r *Region) Load32(a Addr) uint32 {
	return atomic.LoadUint32(r.word(a))
}

// Store32 performs a single-word volatile write.
func (r *Region) Store32(a Addr, v uint32) {
	atomic.StoreUint32(r.word(a), v)
}

// LoadAddr reads a cross-core pointer field.
func (r *Region) LoadAddr(a Addr) Addr {
	return Addr(r.Load32(a))
}

// StoreAddr writes a cross-core pointer field.
func (r *Region) StoreAddr(a Addr, v Addr) {
	r.Store32(a, uint32(v))
}

// Load8 reads one byte through a single load of the word that holds it.
func (r *Region) Load8(a Addr) uint8 {
	w := r.Load32(a &^ 3)
	return uint8(w >> (8 * (a & 3)))
}

// Store8 writes one byte without disturbing the other bytes of its word.
func (r *Region) Store8(a Addr, v uint8) {
	p := r.word(a &^ 3)
	shift := 8 * (a & 3)
	mask := uint32(0xFF) << shift
	for {
		old := atomic.LoadUint32(p)
		nw := old&^mask | uint32(v)<<shift
		if atomic.CompareAndSwapUint32(p, old, nw) {
			return
		}
	}
}

// Load16 reads a little-endian halfword that may be unaligned.
func (r *Region) Load16(a Addr) uint16 {
	return uint16(r.Load8(a)) | uint16(r.Load8(a+1))<<8
}

// Store16 writes a little-endian halfword that may be unaligned.
func (r *Region) Store16(a Addr, v uint16) {
	r.Store8(a, uint8(v))
	r.Store8(a+1, uint8(v>>8))
}

// Bytes returns a view of n bytes at a. The view aliases shared memory; it
// is only valid while the caller owns the buffer it points into.
func (r *Region) Bytes(a Addr, n int) []byte {
	off := r.offset(a, n)
	return r.mem[off : off+n : off+n]
}

// Zero clears n bytes at a. Whole words are cleared with word stores.
func (r *Region) Zero(a Addr, n int) {
	r.offset(a, n)
	end := a + Addr(n)
	for ; a < end && a%4 != 0; a++ {
		r.Store8(a, 0)
	}
	for ; a+4 <= end; a += 4 {
		r.Store32(a, 0)
	}
	for ; a < end; a++ {
		r.Store8(a, 0)
	}
}

var fenceWord atomic.Uint32

// Fence is a full memory barrier: every write issued before it is visible to
// the other core before any write issued after it.
func Fence() {
	fenceWord.Add(1)
}

// Close unmaps the region if it was mapped from a named object.
func (r *Region) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap(r.mem)
	r.unmap = nil
	r.mem = nil
	return err
}
