package tlmbox

// WirelessFwInfo is the wireless stack part of the DeviceInfoTable.
type WirelessFwInfo struct {
	// Version packs major[31:24] minor[23:16] sub[15:8] branch[7:4] release type[3:0].
	Version uint32
	// MemorySize packs SRAM2b[31:24] SRAM2a[23:16] SRAM1[15:8] flash[7:0].
	MemorySize uint32
	ThreadInfo uint32
	// BleInfo carries the stack type in its low byte.
	BleInfo uint32
}

func (w WirelessFwInfo) VersionMajor() uint8       { return uint8(w.Version >> 24) }
func (w WirelessFwInfo) VersionMinor() uint8       { return uint8(w.Version >> 16) }
func (w WirelessFwInfo) VersionSub() uint8         { return uint8(w.Version >> 8) }
func (w WirelessFwInfo) VersionBranch() uint8      { return uint8(w.Version>>4) & 0x0f }
func (w WirelessFwInfo) VersionReleaseType() uint8 { return uint8(w.Version) & 0x0f }

// Sram2bSize returns the SRAM2b size the stack uses, in KiB.
func (w WirelessFwInfo) Sram2bSize() int { return int(uint8(w.MemorySize >> 24)) }

// Sram2aSize returns the SRAM2a size the stack uses, in KiB.
func (w WirelessFwInfo) Sram2aSize() int { return int(uint8(w.MemorySize >> 16)) }

// Sram1Size returns the SRAM1 size the stack uses, in KiB.
func (w WirelessFwInfo) Sram1Size() int { return int(uint8(w.MemorySize >> 8)) }

// FlashSize returns the flash the stack occupies, in KiB. The table
// counts 4 KiB sectors.
func (w WirelessFwInfo) FlashSize() int { return 4 * int(uint8(w.MemorySize)) }

// StackType returns the wireless stack identifier.
func (w WirelessFwInfo) StackType() uint8 { return uint8(w.BleInfo) }

// PackWirelessFwVersion builds a Version word.
func PackWirelessFwVersion(major, minor, sub, branch, releaseType uint8) uint32 {
	return uint32(major)<<24 | uint32(minor)<<16 | uint32(sub)<<8 | uint32(branch&0x0f)<<4 | uint32(releaseType&0x0f)
}

// PackWirelessFwMemorySize builds a MemorySize word. Flash is given in
// 4 KiB sectors.
func PackWirelessFwMemorySize(sram2bKiB, sram2aKiB, sram1KiB, flashSectors uint8) uint32 {
	return uint32(sram2bKiB)<<24 | uint32(sram2aKiB)<<16 | uint32(sram1KiB)<<8 | uint32(flashSectors)
}
