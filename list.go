package tlmbox

import (
	"github.com/xll-gen/tlmbox/shm"
)

// LinkedList is a circular doubly linked queue threaded through shared
// memory. Every node, the sentinel included, starts with a PacketHeader:
// next at +0 and prev at +4. Links are 32-bit addresses so both cores
// can follow them.
//
// A LinkedList does no locking. The core that owns the queue through the
// doorbell protocol, or a caller holding the queue's critical section,
// is the only one allowed to touch it.
type LinkedList struct {
	mem  *shm.Region
	head shm.Addr
}

// NewLinkedList binds a queue to the sentinel node at head. It does not
// initialize the sentinel; see Init.
func NewLinkedList(mem *shm.Region, head shm.Addr) LinkedList {
	return LinkedList{mem: mem, head: head}
}

// Head returns the sentinel address.
func (l LinkedList) Head() shm.Addr { return l.head }

func (l LinkedList) next(n shm.Addr) shm.Addr { return l.mem.LoadAddr(n) }
func (l LinkedList) prev(n shm.Addr) shm.Addr { return l.mem.LoadAddr(n.Add(shm.AddrSize)) }

func (l LinkedList) setNext(n, v shm.Addr) { l.mem.StoreAddr(n, v) }
func (l LinkedList) setPrev(n, v shm.Addr) { l.mem.StoreAddr(n.Add(shm.AddrSize), v) }

// Init makes the queue empty: the sentinel points at itself both ways.
func (l LinkedList) Init() {
	l.setNext(l.head, l.head)
	l.setPrev(l.head, l.head)
}

// IsEmpty reports whether the queue holds no nodes.
func (l LinkedList) IsEmpty() bool {
	return l.next(l.head) == l.head
}

// InsertTail appends node n.
func (l LinkedList) InsertTail(n shm.Addr) {
	tail := l.prev(l.head)
	l.setNext(n, l.head)
	l.setPrev(n, tail)
	l.setNext(tail, n)
	l.setPrev(l.head, n)
}

// InsertHead prepends node n.
func (l LinkedList) InsertHead(n shm.Addr) {
	first := l.next(l.head)
	l.setNext(n, first)
	l.setPrev(n, l.head)
	l.setPrev(first, n)
	l.setNext(l.head, n)
}

// RemoveNode unlinks n from whichever queue holds it. The links of n are
// left as they were.
func (l LinkedList) RemoveNode(n shm.Addr) {
	p, nx := l.prev(n), l.next(n)
	l.setNext(p, nx)
	l.setPrev(nx, p)
}

// RemoveHead unlinks and returns the oldest node.
func (l LinkedList) RemoveHead() (shm.Addr, bool) {
	if l.IsEmpty() {
		return shm.Nil, false
	}
	n := l.next(l.head)
	l.RemoveNode(n)
	return n, true
}

// RemoveTail unlinks and returns the newest node.
func (l LinkedList) RemoveTail() (shm.Addr, bool) {
	if l.IsEmpty() {
		return shm.Nil, false
	}
	n := l.prev(l.head)
	l.RemoveNode(n)
	return n, true
}

// Next returns the node after n, or false when n is the last node.
func (l LinkedList) Next(n shm.Addr) (shm.Addr, bool) {
	nx := l.next(n)
	if nx == l.head {
		return shm.Nil, false
	}
	return nx, true
}

// First returns the oldest node without removing it.
func (l LinkedList) First() (shm.Addr, bool) {
	return l.Next(l.head)
}

// Len walks the queue and counts its nodes.
func (l LinkedList) Len() int {
	n := 0
	for cur, ok := l.First(); ok; cur, ok = l.Next(cur) {
		n++
	}
	return n
}

// Contains walks the queue looking for node n.
func (l LinkedList) Contains(n shm.Addr) bool {
	for cur, ok := l.First(); ok; cur, ok = l.Next(cur) {
		if cur == n {
			return true
		}
	}
	return false
}

// Nodes returns the node addresses in FIFO order.
func (l LinkedList) Nodes() []shm.Addr {
	var out []shm.Addr
	for cur, ok := l.First(); ok; cur, ok = l.Next(cur) {
		out = append(out, cur)
	}
	return out
}
