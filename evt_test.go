package tlmbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xll-gen/tlmbox/shm"
)

type recordingReleaser struct {
	released []shm.Addr
}

func (r *recordingReleaser) release(a shm.Addr) {
	r.released = append(r.released, a)
}

func newTestEvt(t *testing.T, kind TlPacketType, code uint8, payload []byte) (*EvtBox, *recordingReleaser) {
	t.Helper()
	size := EvtBufferStride(MaxPayloadSize)
	mem := newTestRegion(t, size)
	require.NoError(t, WriteEvtPacket(mem, testBase, size, kind, code, payload))
	rel := &recordingReleaser{}
	return newEvtBox(mem, testBase, size, rel), rel
}

func TestEvtBoxCommandComplete(t *testing.T) {
	evt, _ := newTestEvt(t, TypeBleEvt, EvtCodeCommandComplete,
		EncodeCcEvt(CcEvt{NumCmd: 1, CmdCode: 0x0C03}))

	stub := evt.Stub()
	require.Equal(t, EvtStub{Kind: TypeBleEvt, EvtCode: EvtCodeCommandComplete}, stub)

	cc, err := evt.CcEvt()
	require.NoError(t, err)
	require.Equal(t, uint8(1), cc.NumCmd)
	require.Equal(t, uint16(0x0C03), cc.CmdCode)
	require.Empty(t, cc.Payload)

	_, err = evt.CsEvt()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEvtBoxCommandStatus(t *testing.T) {
	evt, _ := newTestEvt(t, TypeBleEvt, EvtCodeCommandStatus,
		EncodeCsEvt(CsEvt{Status: 0x0C, NumCmd: 1, CmdCode: 0x2005}))
	cs, err := evt.CsEvt()
	require.NoError(t, err)
	require.Equal(t, CsEvt{Status: 0x0C, NumCmd: 1, CmdCode: 0x2005}, cs)
}

func TestEvtBoxAsynch(t *testing.T) {
	evt, _ := newTestEvt(t, TypeSysEvt, EvtCodeVendorSpecific,
		EncodeAsynchEvt(AsynchEvt{SubEvtCode: SysSubEvtReady, Payload: []byte{0x01}}))
	a, err := evt.AsynchEvt()
	require.NoError(t, err)
	require.Equal(t, SysSubEvtReady, a.SubEvtCode)
	require.Equal(t, []byte{0x01}, a.Payload)
}

func TestEvtBoxCloseOnce(t *testing.T) {
	evt, rel := newTestEvt(t, TypeBleEvt, 0x3E, []byte{1, 2, 3})
	require.False(t, evt.Released())
	require.NoError(t, evt.Close())
	require.NoError(t, evt.Close())
	require.NoError(t, evt.Close())
	require.Equal(t, []shm.Addr{testBase}, rel.released)
	require.True(t, evt.Released())

	require.PanicsWithValue(t, ErrEvtReleased, func() { evt.Payload() })
	require.PanicsWithValue(t, ErrEvtReleased, func() { evt.Stub() })
}

func TestEvtBoxMalformedLength(t *testing.T) {
	size := CsBufferSize
	mem := newTestRegion(t, EvtBufferStride(MaxPayloadSize))
	rel := &recordingReleaser{}
	require.NoError(t, WriteEvtPacket(mem, testBase, size, TypeBleEvt, EvtCodeCommandStatus, make([]byte, CsEvtSize)))
	mem.Store8(testBase.Add(offEvtLen), 200)

	evt := newEvtBox(mem, testBase, size, rel)
	_, err := evt.Payload()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	_, err = evt.CsEvt()
	require.ErrorIs(t, err, ErrMalformed)
	_, err = evt.Size()
	require.ErrorIs(t, err, ErrMalformed)

	require.NoError(t, evt.Close())
	require.Len(t, rel.released, 1, "malformed buffers are still released")
}

func TestEvtBoxUnknownPacketType(t *testing.T) {
	evt, rel := newTestEvt(t, TlPacketType(0x77), 0x3E, []byte{1, 2, 3})
	require.Equal(t, TlPacketType(0x77), evt.Kind())

	_, err := evt.Payload()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	require.Contains(t, de.Reason, "unknown packet type 0x77")
	_, err = evt.Size()
	require.ErrorIs(t, err, ErrMalformed)
	n, err := evt.CopyTo(make([]byte, 64))
	require.ErrorIs(t, err, ErrMalformed)
	require.Zero(t, n)

	require.NoError(t, evt.Close())
	require.Len(t, rel.released, 1)
}

func TestEvtBoxShortPayload(t *testing.T) {
	evt, _ := newTestEvt(t, TypeBleEvt, EvtCodeCommandComplete, []byte{1, 2})
	_, err := evt.CcEvt()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEvtBoxCopyTo(t *testing.T) {
	evt, _ := newTestEvt(t, TypeBleEvt, 0x3E, []byte{0xAA, 0xBB})
	n, err := evt.Size()
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 8)
	n, err = evt.CopyTo(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x3E, 0x02, 0xAA, 0xBB}, buf[:n])

	_, err = evt.CopyTo(make([]byte, 4))
	require.Error(t, err)
}

func TestEvtBoxCopyToAcl(t *testing.T) {
	size := EvtBufferStride(MaxPayloadSize)
	mem := newTestRegion(t, size)
	require.NoError(t, WriteAclDataPacket(mem, testBase, 0x0001, []byte{9, 8, 7}))
	evt := newEvtBox(mem, testBase, size, &recordingReleaser{})

	buf := make([]byte, 16)
	n, err := evt.CopyTo(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 0x01, 0x00, 0x03, 0x00, 9, 8, 7}, buf[:n])
}

func TestWriteEvtPacketBounds(t *testing.T) {
	mem := newTestRegion(t, 64)
	require.ErrorIs(t, WriteEvtPacket(mem, testBase, CsBufferSize, TypeBleEvt, EvtCodeCommandStatus, make([]byte, 5)), ErrPayloadTooLarge)
	require.NoError(t, WriteEvtPacket(mem, testBase, CsBufferSize, TypeBleEvt, EvtCodeCommandStatus, make([]byte, 4)))
}

func TestReadCommandResponse(t *testing.T) {
	mem := newTestRegion(t, CmdPacketSize+1)
	require.NoError(t, WriteCmdPacket(mem, testBase, TypeSysCmd, 0xFC66, pattern(40)))
	require.NoError(t, WriteEvtPacket(mem, testBase, CmdPacketSize, TypeSysRsp, EvtCodeCommandComplete,
		EncodeCcEvt(CcEvt{NumCmd: 1, CmdCode: 0xFC66, Payload: []byte{0x00}})))

	require.Equal(t, uint8(0x0E), mem.Load8(testBase.Add(9)))
	require.Equal(t, uint8(0x01), mem.Load8(testBase.Add(11)), "CcEvt starts at +11")

	out, err := ReadCommandResponse(mem, testBase, CmdPacketSize)
	require.NoError(t, err)
	require.True(t, out.Complete())
	require.Equal(t, uint16(0xFC66), out.Opcode)
	require.Equal(t, []byte{0x00}, out.Payload)

	mem.Store8(testBase.Add(offEvtCode), 0x3E)
	_, err = ReadCommandResponse(mem, testBase, CmdPacketSize)
	require.ErrorIs(t, err, ErrMalformed)
	mem.Store8(testBase.Add(offEvtCode), EvtCodeCommandComplete)
	mem.Store8(testBase.Add(offKind), 0x00)
	_, err = ReadCommandResponse(mem, testBase, CmdPacketSize)
	require.ErrorIs(t, err, ErrMalformed)
}
