package tlmbox

import (
	"fmt"

	"github.com/xll-gen/tlmbox/shm"
)

// Section is a named span of the memory map.
type Section struct {
	Name  string
	Start shm.Addr
	Size  int
}

// End returns the first address past the section.
func (s Section) End() shm.Addr { return s.Start.Add(s.Size) }

// Cpu2ScratchSize is the core-private RAM handed to the coprocessor.
const Cpu2ScratchSize = 32

// Layout is the memory map derived from a Config. The reference table
// sits at the base; subsystem tables follow in MB_MEM1, queues and
// buffers in MB_MEM2, and core-private sentinels in LOCAL.
type Layout struct {
	Sections []Section

	RefTable        shm.Addr
	DeviceInfoTable shm.Addr
	BleTable        shm.Addr
	ThreadTable     shm.Addr
	SysTable        shm.Addr
	MemManagerTable shm.Addr
	TracesTable     shm.Addr
	MacTable        shm.Addr

	FreeBufQueue     shm.Addr
	TracesEvtQueue   shm.Addr
	CsBuffer         shm.Addr
	EvtQueue         shm.Addr
	SystemEvtQueue   shm.Addr
	SysCmdBuf        shm.Addr
	EvtPool          shm.Addr
	TracesPool       shm.Addr
	SysSpareEvtBuf   shm.Addr
	BleSpareEvtBuf   shm.Addr
	BleCmdBuffer     shm.Addr
	HciAclDataBuffer shm.Addr
	MacCmdRspBuffer  shm.Addr
	MacNotifBuffer   shm.Addr

	LocalFreeBufQueue shm.Addr
	// Cpu2Scratch is private to the coprocessor. The firmware keeps its
	// pool free lists there.
	Cpu2Scratch shm.Addr

	EvtPoolCount    int
	TracesPoolCount int
	EvtBufferSize   int
}

type allocator struct {
	at       shm.Addr
	sections []Section
}

func (a *allocator) section(name string) {
	a.sections = append(a.sections, Section{Name: name, Start: a.at})
}

func (a *allocator) alloc(size int) shm.Addr {
	p := a.at
	a.at = a.at.Add(4 * divc(size, 4))
	s := &a.sections[len(a.sections)-1]
	s.Size = int(a.at - s.Start)
	return p
}

// NewLayout computes the memory map for cfg.
func NewLayout(cfg Config) (Layout, error) {
	if err := cfg.Validate(); err != nil {
		return Layout{}, err
	}
	return computeLayout(cfg), nil
}

func computeLayout(cfg Config) Layout {
	stride := EvtBufferStride(cfg.MostEventPayloadSize)
	l := Layout{
		EvtPoolCount:    cfg.EvtQueueLength,
		TracesPoolCount: cfg.TracesPoolLength,
		EvtBufferSize:   stride,
	}
	a := &allocator{at: cfg.base()}

	a.section("TL_REF_TABLE")
	l.RefTable = a.alloc(RefTableSize)

	a.section("MB_MEM1")
	l.DeviceInfoTable = a.alloc(DeviceInfoTableSize)
	l.BleTable = a.alloc(BleTableSize)
	l.ThreadTable = a.alloc(ThreadTableSize)
	l.SysTable = a.alloc(SysTableSize)
	l.MemManagerTable = a.alloc(MemManagerTableSize)
	l.TracesTable = a.alloc(TracesTableSize)
	l.MacTable = a.alloc(MacTableSize)

	a.section("MB_MEM2")
	l.FreeBufQueue = a.alloc(PacketHeaderSize)
	l.TracesEvtQueue = a.alloc(PacketHeaderSize)
	l.CsBuffer = a.alloc(CsBufferSize)
	l.EvtQueue = a.alloc(PacketHeaderSize)
	l.SystemEvtQueue = a.alloc(PacketHeaderSize)
	l.SysCmdBuf = a.alloc(CmdPacketSize)
	l.EvtPool = a.alloc(cfg.EvtQueueLength * stride)
	l.TracesPool = a.alloc(cfg.TracesPoolLength * stride)
	l.SysSpareEvtBuf = a.alloc(SpareEvtBufferSize)
	l.BleSpareEvtBuf = a.alloc(SpareEvtBufferSize)
	l.BleCmdBuffer = a.alloc(CmdPacketSize)
	l.HciAclDataBuffer = a.alloc(AclDataPacketSize)
	l.MacCmdRspBuffer = a.alloc(CmdPacketSize)
	l.MacNotifBuffer = a.alloc(stride)

	a.section("LOCAL")
	l.LocalFreeBufQueue = a.alloc(PacketHeaderSize)
	l.Cpu2Scratch = a.alloc(Cpu2ScratchSize)

	l.Sections = a.sections
	return l
}

func layoutSize(cfg Config) int {
	l := computeLayout(cfg)
	return l.Size()
}

// Base returns the first address of the map.
func (l Layout) Base() shm.Addr { return l.Sections[0].Start }

// Size returns the number of bytes the map spans.
func (l Layout) Size() int {
	last := l.Sections[len(l.Sections)-1]
	return int(last.End() - l.Base())
}

// Section returns the named section.
func (l Layout) Section(name string) (Section, bool) {
	for _, s := range l.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Check reports whether mem covers the whole map.
func (l Layout) Check(mem *shm.Region) error {
	if !mem.Contains(l.Base(), l.Size()) {
		return fmt.Errorf("tlmbox: region %v+%d does not cover memory map %v+%d", mem.Base(), mem.Size(), l.Base(), l.Size())
	}
	return nil
}

// NewRegion allocates a heap-backed region that fits the map.
func (l Layout) NewRegion() (*shm.Region, error) {
	return shm.NewHeapRegion(l.Base(), l.Size())
}
