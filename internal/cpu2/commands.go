package cpu2

import (
	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox"
)

func encodeOutcome(out tlmbox.CommandOutcome) (uint8, []byte) {
	if out.EvtCode == tlmbox.EvtCodeCommandStatus {
		return out.EvtCode, tlmbox.EncodeCsEvt(tlmbox.CsEvt{Status: out.Status, NumCmd: out.NumCmd, CmdCode: out.Opcode})
	}
	return tlmbox.EvtCodeCommandComplete, tlmbox.EncodeCcEvt(tlmbox.CcEvt{NumCmd: out.NumCmd, CmdCode: out.Opcode, Payload: out.Payload})
}

// onSysCmd answers in place: the response overwrites the command.
func (f *Firmware) onSysCmd() error {
	cmd := tlmbox.ReadCmdPacket(f.mem, f.sys.CmdBuffer)
	code, payload := encodeOutcome(f.opts.SysHandler(cmd))
	f.log.Debug("system command", zap.Uint16("opcode", cmd.Opcode))
	if err := tlmbox.WriteEvtPacket(f.mem, f.sys.CmdBuffer, tlmbox.CmdPacketSize, tlmbox.TypeSysRsp, code, payload); err != nil {
		return err
	}
	f.core.ClearFlag(tlmbox.ChannelSystemCmdRsp)
	return nil
}

// onBleCmd releases the command buffer at once and posts the outcome as an
// event. Command status events fall back to the status buffer and command
// complete events to the BLE spare buffer when the pool is empty.
func (f *Firmware) onBleCmd() error {
	cmd := tlmbox.ReadCmdPacket(f.mem, f.ble.CmdBuffer)
	f.core.ClearFlag(tlmbox.ChannelBleCmd)
	f.log.Debug("ble command", zap.Uint16("opcode", cmd.Opcode))

	code, payload := encodeOutcome(f.opts.BleHandler(cmd))
	spare := f.mm.SpareBleBuffer
	if code == tlmbox.EvtCodeCommandStatus {
		spare = f.ble.CsBuffer
	}
	a, size, err := f.claim(f.evtPool, spare)
	if err != nil {
		return err
	}
	if err := tlmbox.WriteEvtPacket(f.mem, a, size, tlmbox.TypeBleEvt, code, payload); err != nil {
		return err
	}
	f.post(tlmbox.ChannelBleEvent, a)
	return nil
}

func (f *Firmware) onMacCmd() error {
	cmd := tlmbox.ReadCmdPacket(f.mem, f.mac.CmdRspBuffer)
	code, payload := encodeOutcome(f.opts.MacHandler(cmd))
	f.log.Debug("mac command", zap.Uint16("opcode", cmd.Opcode))
	if err := tlmbox.WriteEvtPacket(f.mem, f.mac.CmdRspBuffer, tlmbox.CmdPacketSize, tlmbox.TypeOtRsp, code, payload); err != nil {
		return err
	}
	f.core.ClearFlag(tlmbox.ChannelMacCmdRsp)
	return nil
}

func (f *Firmware) onAcl() error {
	p, err := tlmbox.ReadAclDataPacket(f.mem, f.ble.HciAclDataBuffer, tlmbox.AclDataPacketSize)
	f.core.ClearFlag(tlmbox.ChannelHciAclData)
	if err != nil {
		f.log.Warn("acl data dropped", zap.Error(err))
		return nil
	}
	select {
	case f.acl <- p:
	default:
		f.log.Warn("acl data dropped, reader too slow", zap.Uint16("handle", p.Handle))
	}
	return nil
}

func (f *Firmware) postSysEvent(subEvt uint16, payload []byte) error {
	a, size, err := f.claim(f.evtPool, f.mm.SpareSysBuffer)
	if err != nil {
		return err
	}
	body := tlmbox.EncodeAsynchEvt(tlmbox.AsynchEvt{SubEvtCode: subEvt, Payload: payload})
	if err := tlmbox.WriteEvtPacket(f.mem, a, size, tlmbox.TypeSysEvt, tlmbox.EvtCodeVendorSpecific, body); err != nil {
		f.reclaim(a)
		return err
	}
	f.post(tlmbox.ChannelSystemEvent, a)
	return nil
}
