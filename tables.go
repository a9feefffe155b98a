package tlmbox

import (
	"github.com/xll-gen/tlmbox/shm"
)

// Table sizes in bytes.
const (
	RefTableSize        = 10 * shm.AddrSize
	DeviceInfoTableSize = 32
	BleTableSize        = 16
	ThreadTableSize     = 12
	SysTableSize        = 8
	MemManagerTableSize = 28
	TracesTableSize     = 4
	MacTableSize        = 12
)

// words walks consecutive 32-bit fields of a table.
type words struct {
	mem *shm.Region
	at  shm.Addr
}

func (w *words) put(v uint32) {
	w.mem.Store32(w.at, v)
	w.at = w.at.Add(4)
}

func (w *words) putAddr(v shm.Addr) { w.put(uint32(v)) }

func (w *words) get() uint32 {
	v := w.mem.Load32(w.at)
	w.at = w.at.Add(4)
	return v
}

func (w *words) getAddr() shm.Addr { return shm.Addr(w.get()) }

// RefTable is the directory the coprocessor reads at the fixed base
// address. The last three slots are always published as nil.
type RefTable struct {
	DeviceInfoTable shm.Addr
	BleTable        shm.Addr
	ThreadTable     shm.Addr
	SysTable        shm.Addr
	MemManagerTable shm.Addr
	TracesTable     shm.Addr
	MacTable        shm.Addr
	ZigbeeTable     shm.Addr
	LldTestsTable   shm.Addr
	BleLldTable     shm.Addr
}

func (t RefTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	for _, a := range []shm.Addr{
		t.DeviceInfoTable, t.BleTable, t.ThreadTable, t.SysTable, t.MemManagerTable,
		t.TracesTable, t.MacTable, t.ZigbeeTable, t.LldTestsTable, t.BleLldTable,
	} {
		w.putAddr(a)
	}
}

func LoadRefTable(mem *shm.Region, at shm.Addr) RefTable {
	w := words{mem, at}
	var t RefTable
	for _, a := range []*shm.Addr{
		&t.DeviceInfoTable, &t.BleTable, &t.ThreadTable, &t.SysTable, &t.MemManagerTable,
		&t.TracesTable, &t.MacTable, &t.ZigbeeTable, &t.LldTestsTable, &t.BleLldTable,
	} {
		*a = w.getAddr()
	}
	return t
}

// DeviceInfoTable is filled in by the coprocessor.
type DeviceInfoTable struct {
	SafeBootVersion uint32
	Fus             FusInfo
	WirelessFw      WirelessFwInfo
}

// FusInfo describes the firmware upgrade service image.
type FusInfo struct {
	Version    uint32
	MemorySize uint32
	Info       uint32
}

func (t DeviceInfoTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	w.put(t.SafeBootVersion)
	w.put(t.Fus.Version)
	w.put(t.Fus.MemorySize)
	w.put(t.Fus.Info)
	w.put(t.WirelessFw.Version)
	w.put(t.WirelessFw.MemorySize)
	w.put(t.WirelessFw.ThreadInfo)
	w.put(t.WirelessFw.BleInfo)
}

func LoadDeviceInfoTable(mem *shm.Region, at shm.Addr) DeviceInfoTable {
	w := words{mem, at}
	var t DeviceInfoTable
	t.SafeBootVersion = w.get()
	t.Fus.Version = w.get()
	t.Fus.MemorySize = w.get()
	t.Fus.Info = w.get()
	t.WirelessFw.Version = w.get()
	t.WirelessFw.MemorySize = w.get()
	t.WirelessFw.ThreadInfo = w.get()
	t.WirelessFw.BleInfo = w.get()
	return t
}

type BleTable struct {
	CmdBuffer        shm.Addr
	CsBuffer         shm.Addr
	EvtQueue         shm.Addr
	HciAclDataBuffer shm.Addr
}

func (t BleTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	w.putAddr(t.CmdBuffer)
	w.putAddr(t.CsBuffer)
	w.putAddr(t.EvtQueue)
	w.putAddr(t.HciAclDataBuffer)
}

func LoadBleTable(mem *shm.Region, at shm.Addr) BleTable {
	w := words{mem, at}
	return BleTable{CmdBuffer: w.getAddr(), CsBuffer: w.getAddr(), EvtQueue: w.getAddr(), HciAclDataBuffer: w.getAddr()}
}

// ThreadTable is published zeroed; no Thread buffers are provided.
type ThreadTable struct {
	CliCmdRspBuffer shm.Addr
	OtCmdRspBuffer  shm.Addr
	NotAckBuffer    shm.Addr
}

func (t ThreadTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	w.putAddr(t.CliCmdRspBuffer)
	w.putAddr(t.OtCmdRspBuffer)
	w.putAddr(t.NotAckBuffer)
}

type SysTable struct {
	CmdBuffer shm.Addr
	EvtQueue  shm.Addr
}

func (t SysTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	w.putAddr(t.CmdBuffer)
	w.putAddr(t.EvtQueue)
}

func LoadSysTable(mem *shm.Region, at shm.Addr) SysTable {
	w := words{mem, at}
	return SysTable{CmdBuffer: w.getAddr(), EvtQueue: w.getAddr()}
}

// MemManagerTable publishes the event pools, their sizes in bytes, the
// spare buffers and the free-buffer queue.
type MemManagerTable struct {
	SpareBleBuffer shm.Addr
	SpareSysBuffer shm.Addr
	BlePool        shm.Addr
	BlePoolSize    uint32
	FreeBufQueue   shm.Addr
	TracesEvtPool  shm.Addr
	TracesPoolSize uint32
}

func (t MemManagerTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	w.putAddr(t.SpareBleBuffer)
	w.putAddr(t.SpareSysBuffer)
	w.putAddr(t.BlePool)
	w.put(t.BlePoolSize)
	w.putAddr(t.FreeBufQueue)
	w.putAddr(t.TracesEvtPool)
	w.put(t.TracesPoolSize)
}

func LoadMemManagerTable(mem *shm.Region, at shm.Addr) MemManagerTable {
	w := words{mem, at}
	return MemManagerTable{
		SpareBleBuffer: w.getAddr(),
		SpareSysBuffer: w.getAddr(),
		BlePool:        w.getAddr(),
		BlePoolSize:    w.get(),
		FreeBufQueue:   w.getAddr(),
		TracesEvtPool:  w.getAddr(),
		TracesPoolSize: w.get(),
	}
}

type TracesTable struct {
	TracesQueue shm.Addr
}

func (t TracesTable) Store(mem *shm.Region, at shm.Addr) {
	mem.StoreAddr(at, t.TracesQueue)
}

func LoadTracesTable(mem *shm.Region, at shm.Addr) TracesTable {
	return TracesTable{TracesQueue: mem.LoadAddr(at)}
}

// MacTable publishes the 802.15.4 command/response and notification
// buffers. EvtQueue is unused and published as nil.
type MacTable struct {
	CmdRspBuffer shm.Addr
	NotAckBuffer shm.Addr
	EvtQueue     shm.Addr
}

func (t MacTable) Store(mem *shm.Region, at shm.Addr) {
	w := words{mem, at}
	w.putAddr(t.CmdRspBuffer)
	w.putAddr(t.NotAckBuffer)
	w.putAddr(t.EvtQueue)
}

func LoadMacTable(mem *shm.Region, at shm.Addr) MacTable {
	w := words{mem, at}
	return MacTable{CmdRspBuffer: w.getAddr(), NotAckBuffer: w.getAddr(), EvtQueue: w.getAddr()}
}
