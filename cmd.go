package tlmbox

import (
	"fmt"

	"github.com/xll-gen/tlmbox/shm"
)

// CmdPacket is a decoded command record. Payload is a copy.
type CmdPacket struct {
	Type    TlPacketType
	Opcode  uint16
	Payload []byte
}

// WriteCmdPacket serializes a command into the buffer at addr:
// type at +8, cmd_code at +9 (unaligned, little-endian), payload_len at
// +11 and payload from +12. The PacketHeader is left alone.
func WriteCmdPacket(mem *shm.Region, addr shm.Addr, typ TlPacketType, opcode uint16, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: command payload %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	mem.Store8(addr.Add(offCmdType), uint8(typ))
	mem.Store16(addr.Add(offCmdCode), opcode)
	mem.Store8(addr.Add(offCmdLen), uint8(len(payload)))
	if len(payload) > 0 {
		copy(mem.Bytes(addr.Add(offCmdPayload), len(payload)), payload)
	}
	return nil
}

// ReadCmdPacket decodes the command in the buffer at addr.
func ReadCmdPacket(mem *shm.Region, addr shm.Addr) CmdPacket {
	n := int(mem.Load8(addr.Add(offCmdLen)))
	p := CmdPacket{
		Type:   TlPacketType(mem.Load8(addr.Add(offCmdType))),
		Opcode: mem.Load16(addr.Add(offCmdCode)),
	}
	if n > 0 {
		p.Payload = append([]byte(nil), mem.Bytes(addr.Add(offCmdPayload), n)...)
	}
	return p
}

// AclDataPacket is a decoded HCI ACL data record. Data is a copy.
type AclDataPacket struct {
	Type   TlPacketType
	Handle uint16
	Data   []byte
}

// WriteAclDataPacket serializes ACL data into the buffer at addr:
// type at +8, handle at +9, length at +11 and data from +13.
func WriteAclDataPacket(mem *shm.Region, addr shm.Addr, handle uint16, data []byte) error {
	if len(data) > MaxAclDataSize {
		return fmt.Errorf("%w: acl data %d > %d", ErrPayloadTooLarge, len(data), MaxAclDataSize)
	}
	mem.Store8(addr.Add(offAclType), uint8(TypeAclData))
	mem.Store16(addr.Add(offAclHandle), handle)
	mem.Store16(addr.Add(offAclLength), uint16(len(data)))
	if len(data) > 0 {
		copy(mem.Bytes(addr.Add(offAclData), len(data)), data)
	}
	return nil
}

// ReadAclDataPacket decodes the ACL record in the buffer at addr. size is
// the buffer size and bounds the declared length.
func ReadAclDataPacket(mem *shm.Region, addr shm.Addr, size int) (AclDataPacket, error) {
	n := int(mem.Load16(addr.Add(offAclLength)))
	if offAclData+n > size {
		return AclDataPacket{}, decodeErrorf("acl data", "length %d overruns %d byte buffer", n, size)
	}
	p := AclDataPacket{
		Type:   TlPacketType(mem.Load8(addr.Add(offAclType))),
		Handle: mem.Load16(addr.Add(offAclHandle)),
	}
	if n > 0 {
		p.Data = append([]byte(nil), mem.Bytes(addr.Add(offAclData), n)...)
	}
	return p, nil
}
