package tlmbox

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/xll-gen/tlmbox/shm"
)

// CsEvt is a command status event: the coprocessor accepted (or refused)
// a command whose outcome arrives later.
type CsEvt struct {
	Status  uint8
	NumCmd  uint8
	CmdCode uint16
}

// CcEvt is a command complete event. Payload holds the return parameters.
type CcEvt struct {
	NumCmd  uint8
	CmdCode uint16
	Payload []byte
}

// AsynchEvt is a vendor specific event identified by a sub-event code.
type AsynchEvt struct {
	SubEvtCode uint16
	Payload    []byte
}

// DecodeCsEvt decodes a command status event payload.
func DecodeCsEvt(p []byte) (CsEvt, error) {
	if len(p) < CsEvtSize {
		return CsEvt{}, decodeErrorf("command status", "payload %d < %d", len(p), CsEvtSize)
	}
	return CsEvt{Status: p[0], NumCmd: p[1], CmdCode: binary.LittleEndian.Uint16(p[2:])}, nil
}

// DecodeCcEvt decodes a command complete event payload. The returned
// Payload aliases p.
func DecodeCcEvt(p []byte) (CcEvt, error) {
	if len(p) < CcEvtHeaderSize {
		return CcEvt{}, decodeErrorf("command complete", "payload %d < %d", len(p), CcEvtHeaderSize)
	}
	return CcEvt{NumCmd: p[0], CmdCode: binary.LittleEndian.Uint16(p[1:]), Payload: p[CcEvtHeaderSize:]}, nil
}

// DecodeAsynchEvt decodes a vendor specific event payload. The returned
// Payload aliases p.
func DecodeAsynchEvt(p []byte) (AsynchEvt, error) {
	if len(p) < AsynchEvtHeaderSize {
		return AsynchEvt{}, decodeErrorf("vendor event", "payload %d < %d", len(p), AsynchEvtHeaderSize)
	}
	return AsynchEvt{SubEvtCode: binary.LittleEndian.Uint16(p), Payload: p[AsynchEvtHeaderSize:]}, nil
}

// EncodeCsEvt returns the payload of a command status event.
func EncodeCsEvt(e CsEvt) []byte {
	b := []byte{e.Status, e.NumCmd, 0, 0}
	binary.LittleEndian.PutUint16(b[2:], e.CmdCode)
	return b
}

// EncodeCcEvt returns the payload of a command complete event.
func EncodeCcEvt(e CcEvt) []byte {
	b := make([]byte, CcEvtHeaderSize, CcEvtHeaderSize+len(e.Payload))
	b[0] = e.NumCmd
	binary.LittleEndian.PutUint16(b[1:], e.CmdCode)
	return append(b, e.Payload...)
}

// EncodeAsynchEvt returns the payload of a vendor specific event.
func EncodeAsynchEvt(e AsynchEvt) []byte {
	b := make([]byte, AsynchEvtHeaderSize, AsynchEvtHeaderSize+len(e.Payload))
	binary.LittleEndian.PutUint16(b, e.SubEvtCode)
	return append(b, e.Payload...)
}

// WriteEvtPacket serializes an event into the buffer at addr: kind at +8,
// evt_code at +9, payload_len at +10 and payload from +11. size is the
// buffer size.
func WriteEvtPacket(mem *shm.Region, addr shm.Addr, size int, kind TlPacketType, evtCode uint8, payload []byte) error {
	if len(payload) > MaxPayloadSize || offEvtPayload+len(payload) > size {
		return fmt.Errorf("%w: event payload %d in %d byte buffer", ErrPayloadTooLarge, len(payload), size)
	}
	mem.Store8(addr.Add(offKind), uint8(kind))
	mem.Store8(addr.Add(offEvtCode), evtCode)
	mem.Store8(addr.Add(offEvtLen), uint8(len(payload)))
	if len(payload) > 0 {
		copy(mem.Bytes(addr.Add(offEvtPayload), len(payload)), payload)
	}
	return nil
}

// EvtStub is the fixed prefix of an event record.
type EvtStub struct {
	Kind    TlPacketType
	EvtCode uint8
}

func readStub(mem *shm.Region, addr shm.Addr) EvtStub {
	w := mem.Load32(addr.Add(offKind))
	return EvtStub{Kind: TlPacketType(w), EvtCode: uint8(w >> 8)}
}

func checkKind(stub EvtStub) error {
	if !stub.Kind.Known() {
		return decodeErrorf("event", "unknown packet type 0x%02x", uint8(stub.Kind))
	}
	return nil
}

func readEvtPayload(mem *shm.Region, addr shm.Addr, size int) ([]byte, error) {
	if err := checkKind(readStub(mem, addr)); err != nil {
		return nil, err
	}
	n := int(mem.Load8(addr.Add(offEvtLen)))
	if offEvtPayload+n > size {
		return nil, decodeErrorf("event", "payload_len %d overruns %d byte buffer", n, size)
	}
	return mem.Bytes(addr.Add(offEvtPayload), n), nil
}

// CommandOutcome is the decoded answer to a command: either a command
// complete event or a command status event. Payload is a copy.
type CommandOutcome struct {
	EvtCode uint8
	Status  uint8
	NumCmd  uint8
	Opcode  uint16
	Payload []byte
}

// Complete reports whether the outcome came from a command complete event.
func (o CommandOutcome) Complete() bool { return o.EvtCode == EvtCodeCommandComplete }

func decodeOutcome(evtCode uint8, payload []byte) (CommandOutcome, error) {
	switch evtCode {
	case EvtCodeCommandComplete:
		cc, err := DecodeCcEvt(payload)
		if err != nil {
			return CommandOutcome{}, err
		}
		return CommandOutcome{
			EvtCode: evtCode,
			NumCmd:  cc.NumCmd,
			Opcode:  cc.CmdCode,
			Payload: append([]byte(nil), cc.Payload...),
		}, nil
	case EvtCodeCommandStatus:
		cs, err := DecodeCsEvt(payload)
		if err != nil {
			return CommandOutcome{}, err
		}
		return CommandOutcome{EvtCode: evtCode, Status: cs.Status, NumCmd: cs.NumCmd, Opcode: cs.CmdCode}, nil
	}
	return CommandOutcome{}, decodeErrorf("command outcome", "event code 0x%02x", evtCode)
}

// ReadCommandResponse decodes the response the coprocessor wrote in place
// over a command buffer of the given size.
func ReadCommandResponse(mem *shm.Region, addr shm.Addr, size int) (CommandOutcome, error) {
	stub := readStub(mem, addr)
	p, err := readEvtPayload(mem, addr, size)
	if err != nil {
		return CommandOutcome{}, err
	}
	return decodeOutcome(stub.EvtCode, p)
}

type evtReleaser interface {
	release(addr shm.Addr)
}

// EvtBox is the exclusive handle to one received event buffer. The buffer
// returns to its owner when Close is called, exactly once however many
// times Close runs. Any other method called after Close panics with
// ErrEvtReleased.
//
// Slices returned by an EvtBox alias shared memory and are only valid
// until Close.
type EvtBox struct {
	mem      *shm.Region
	addr     shm.Addr
	size     int
	owner    evtReleaser
	released atomic.Bool
}

func newEvtBox(mem *shm.Region, addr shm.Addr, size int, owner evtReleaser) *EvtBox {
	return &EvtBox{mem: mem, addr: addr, size: size, owner: owner}
}

func (e *EvtBox) live() {
	if e.released.Load() {
		panic(ErrEvtReleased)
	}
}

// Addr returns the buffer address.
func (e *EvtBox) Addr() shm.Addr {
	e.live()
	return e.addr
}

// Stub returns kind and evt_code.
func (e *EvtBox) Stub() EvtStub {
	e.live()
	return readStub(e.mem, e.addr)
}

// Kind returns the packet type of the record.
func (e *EvtBox) Kind() TlPacketType {
	return e.Stub().Kind
}

// Payload returns the event payload. An unknown packet type or a
// payload_len that overruns the buffer is reported as a *DecodeError.
func (e *EvtBox) Payload() ([]byte, error) {
	e.live()
	return readEvtPayload(e.mem, e.addr, e.size)
}

// CsEvt decodes the event as a command status event.
func (e *EvtBox) CsEvt() (CsEvt, error) {
	if code := e.Stub().EvtCode; code != EvtCodeCommandStatus {
		return CsEvt{}, decodeErrorf("command status", "event code 0x%02x", code)
	}
	p, err := e.Payload()
	if err != nil {
		return CsEvt{}, err
	}
	return DecodeCsEvt(p)
}

// CcEvt decodes the event as a command complete event.
func (e *EvtBox) CcEvt() (CcEvt, error) {
	if code := e.Stub().EvtCode; code != EvtCodeCommandComplete {
		return CcEvt{}, decodeErrorf("command complete", "event code 0x%02x", code)
	}
	p, err := e.Payload()
	if err != nil {
		return CcEvt{}, err
	}
	return DecodeCcEvt(p)
}

// AsynchEvt decodes the event as a vendor specific event.
func (e *EvtBox) AsynchEvt() (AsynchEvt, error) {
	if code := e.Stub().EvtCode; code != EvtCodeVendorSpecific {
		return AsynchEvt{}, decodeErrorf("vendor event", "event code 0x%02x", code)
	}
	p, err := e.Payload()
	if err != nil {
		return AsynchEvt{}, err
	}
	return DecodeAsynchEvt(p)
}

// Size returns the length of the serial record (everything after the
// PacketHeader) as it would be forwarded to a host.
func (e *EvtBox) Size() (int, error) {
	e.live()
	stub := readStub(e.mem, e.addr)
	if err := checkKind(stub); err != nil {
		return 0, err
	}
	if stub.Kind == TypeAclData {
		n := int(e.mem.Load16(e.addr.Add(offAclLength)))
		if offAclData+n > e.size {
			return 0, decodeErrorf("acl data", "length %d overruns %d byte buffer", n, e.size)
		}
		return AclDataSerialHeaderSize + n, nil
	}
	p, err := readEvtPayload(e.mem, e.addr, e.size)
	if err != nil {
		return 0, err
	}
	return EvtHeaderSize + len(p), nil
}

// CopyTo copies the serial record into buf and returns the number of
// bytes written.
func (e *EvtBox) CopyTo(buf []byte) (int, error) {
	n, err := e.Size()
	if err != nil {
		return 0, err
	}
	if len(buf) < n {
		return 0, fmt.Errorf("tlmbox: buffer of %d bytes too small for %d byte record", len(buf), n)
	}
	return copy(buf, e.mem.Bytes(e.addr.Add(PacketHeaderSize), n)), nil
}

// Close hands the buffer back to its owner. Only the first call has an
// effect; later calls return nil.
func (e *EvtBox) Close() error {
	if e.released.CompareAndSwap(false, true) {
		e.owner.release(e.addr)
	}
	return nil
}

// Released reports whether Close has run.
func (e *EvtBox) Released() bool {
	return e.released.Load()
}
