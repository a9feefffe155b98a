package tlmbox

import (
	"fmt"

	"github.com/xll-gen/tlmbox/ipcc"
)

// TlPacketType is the discriminant byte that opens every serial record.
type TlPacketType uint8

const (
	TypeBleCmd    TlPacketType = 0x01
	TypeAclData   TlPacketType = 0x02
	TypeBleEvt    TlPacketType = 0x04
	TypeOtCmd     TlPacketType = 0x08
	TypeOtRsp     TlPacketType = 0x09
	TypeCliCmd    TlPacketType = 0x0A
	TypeOtNot     TlPacketType = 0x0C
	TypeOtAck     TlPacketType = 0x0D
	TypeCliNot    TlPacketType = 0x0E
	TypeCliAck    TlPacketType = 0x0F
	TypeSysCmd    TlPacketType = 0x10
	TypeSysRsp    TlPacketType = 0x11
	TypeSysEvt    TlPacketType = 0x12
	TypeLocCmd    TlPacketType = 0x20
	TypeLocRsp    TlPacketType = 0x21
	TypeTracesApp TlPacketType = 0x40
	TypeTracesWl  TlPacketType = 0x41
)

// Known reports whether t is a discriminant the firmware defines.
func (t TlPacketType) Known() bool {
	switch t {
	case TypeBleCmd, TypeAclData, TypeBleEvt, TypeOtCmd, TypeOtRsp, TypeCliCmd,
		TypeOtNot, TypeOtAck, TypeCliNot, TypeCliAck, TypeSysCmd, TypeSysRsp,
		TypeSysEvt, TypeLocCmd, TypeLocRsp, TypeTracesApp, TypeTracesWl:
		return true
	}
	return false
}

func (t TlPacketType) String() string {
	switch t {
	case TypeBleCmd:
		return "BleCmd"
	case TypeAclData:
		return "AclData"
	case TypeBleEvt:
		return "BleEvt"
	case TypeOtCmd:
		return "OtCmd"
	case TypeOtRsp:
		return "OtRsp"
	case TypeCliCmd:
		return "CliCmd"
	case TypeOtNot:
		return "OtNot"
	case TypeOtAck:
		return "OtAck"
	case TypeCliNot:
		return "CliNot"
	case TypeCliAck:
		return "CliAck"
	case TypeSysCmd:
		return "SysCmd"
	case TypeSysRsp:
		return "SysRsp"
	case TypeSysEvt:
		return "SysEvt"
	case TypeLocCmd:
		return "LocCmd"
	case TypeLocRsp:
		return "LocRsp"
	case TypeTracesApp:
		return "TracesApp"
	case TypeTracesWl:
		return "TracesWl"
	default:
		return fmt.Sprintf("TlPacketType(0x%02x)", uint8(t))
	}
}

// Event codes carried in the evt_code byte.
const (
	EvtCodeCommandComplete uint8 = 0x0E
	EvtCodeCommandStatus   uint8 = 0x0F
	EvtCodeVendorSpecific  uint8 = 0xFF
)

// System asynchronous sub-event codes.
const (
	SysSubEvtReady           uint16 = 0x9200
	SysSubEvtErrorNotif      uint16 = 0x9201
	SysSubEvtBleNvmRamUpdate uint16 = 0x9202
)

// Record geometry. Offsets are relative to the buffer address, which is
// also the address of its PacketHeader.
const (
	// PacketHeaderSize is the queue node (next, prev) that opens every buffer.
	PacketHeaderSize = 8
	// EvtHeaderSize covers kind, evt_code and payload_len.
	EvtHeaderSize = 3
	// CsEvtSize is the payload of a command status event.
	CsEvtSize = 4
	// CcEvtHeaderSize is num_cmd and cmd_code of a command complete event.
	CcEvtHeaderSize = 3
	// AsynchEvtHeaderSize is the sub_evt_code of a vendor specific event.
	AsynchEvtHeaderSize = 2
	// MaxPayloadSize is the ceiling imposed by the one-byte length fields.
	MaxPayloadSize = 255
	// CmdSerialHeaderSize covers type, cmd_code and payload_len.
	CmdSerialHeaderSize = 4
	// CmdPacketSize is the full size of a command buffer.
	CmdPacketSize = PacketHeaderSize + CmdSerialHeaderSize + MaxPayloadSize
	// AclDataSerialHeaderSize covers type, handle and length.
	AclDataSerialHeaderSize = 5
	// MaxAclDataSize is the largest ACL payload the data buffer holds.
	MaxAclDataSize = 251
	// AclDataPacketSize is the full size of the HCI ACL data buffer.
	AclDataPacketSize = PacketHeaderSize + AclDataSerialHeaderSize + MaxAclDataSize
	// CsBufferSize holds one command status event.
	CsBufferSize = PacketHeaderSize + EvtHeaderSize + CsEvtSize
	// SpareEvtBufferSize holds one event of maximum payload.
	SpareEvtBufferSize = PacketHeaderSize + EvtHeaderSize + MaxPayloadSize

	offKind       = 8
	offEvtCode    = 9
	offEvtLen     = 10
	offEvtPayload = 11

	offCmdType    = 8
	offCmdCode    = 9
	offCmdLen     = 11
	offCmdPayload = 12

	offAclType   = 8
	offAclHandle = 9
	offAclLength = 11
	offAclData   = 13
)

// EvtBufferStride returns the size of one event pool buffer for the given
// maximum event payload, rounded up to a whole number of words.
func EvtBufferStride(mostEventPayloadSize int) int {
	return 4 * divc(PacketHeaderSize+EvtHeaderSize+mostEventPayloadSize, 4)
}

func divc(x, y int) int {
	return (x + y - 1) / y
}

// Doorbell channels, application core to coprocessor.
const (
	ChannelBleCmd          ipcc.Channel = 1
	ChannelSystemCmdRsp    ipcc.Channel = 2
	ChannelThreadOtCmdRsp  ipcc.Channel = 3
	ChannelMacCmdRsp       ipcc.Channel = 3
	ChannelMmReleaseBuffer ipcc.Channel = 4
	ChannelThreadCliCmd    ipcc.Channel = 5
	ChannelHciAclData      ipcc.Channel = 6
)

// Doorbell channels, coprocessor to application core.
const (
	ChannelBleEvent          ipcc.Channel = 1
	ChannelSystemEvent       ipcc.Channel = 2
	ChannelThreadNotifAck    ipcc.Channel = 3
	ChannelMacNotifAck       ipcc.Channel = 3
	ChannelTraces            ipcc.Channel = 4
	ChannelThreadCliNotifAck ipcc.Channel = 5
)
