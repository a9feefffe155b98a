package tlmbox

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/xll-gen/tlmbox/shm"
)

// DefaultBaseAddr is where the coprocessor looks for the reference table.
const DefaultBaseAddr = 0x20030000

// Config sizes the shared memory map and the host-side mailboxes. All
// capacities are fixed at initialization.
type Config struct {
	// BaseAddr is the bus address of the reference table and of the
	// start of the shared region.
	BaseAddr uint32 `toml:"base_addr"`
	// EvtQueueLength is the number of buffers in the event pool.
	EvtQueueLength int `toml:"evt_queue_length"`
	// MostEventPayloadSize bounds the payload of a pooled event.
	MostEventPayloadSize int `toml:"most_event_payload_size"`
	// TracesPoolLength is the number of buffers in the trace pool.
	TracesPoolLength int `toml:"traces_pool_length"`

	SysEventQueueCapacity    int `toml:"sys_event_queue_capacity"`
	BleEventQueueCapacity    int `toml:"ble_event_queue_capacity"`
	TracesEventQueueCapacity int `toml:"traces_event_queue_capacity"`
	MacEventQueueCapacity    int `toml:"mac_event_queue_capacity"`

	// OnFatal is called when a statically sized resource runs out. The
	// default panics.
	OnFatal func(error) `toml:"-"`
}

// DefaultConfig returns the configuration used by the reference firmware.
// Every event queue holds at least as many handles as there are buffers
// that can be in flight on its channel.
func DefaultConfig() Config {
	return Config{
		BaseAddr:                 DefaultBaseAddr,
		EvtQueueLength:           5,
		MostEventPayloadSize:     MaxPayloadSize,
		TracesPoolLength:         4,
		SysEventQueueCapacity:    8,
		BleEventQueueCapacity:    8,
		TracesEventQueueCapacity: 8,
		MacEventQueueCapacity:    1,
	}
}

// LoadConfig reads a TOML file over DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("tlmbox: load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the capacity bounds.
func (c Config) Validate() error {
	var errs []error
	if c.BaseAddr == 0 || c.BaseAddr%4 != 0 {
		errs = append(errs, fmt.Errorf("base_addr 0x%08x must be non-zero and word aligned", c.BaseAddr))
	}
	if c.EvtQueueLength <= 0 {
		errs = append(errs, fmt.Errorf("evt_queue_length %d must be positive", c.EvtQueueLength))
	}
	if c.MostEventPayloadSize < CsEvtSize || c.MostEventPayloadSize > MaxPayloadSize {
		errs = append(errs, fmt.Errorf("most_event_payload_size %d must be in [%d, %d]", c.MostEventPayloadSize, CsEvtSize, MaxPayloadSize))
	}
	if c.TracesPoolLength <= 0 {
		errs = append(errs, fmt.Errorf("traces_pool_length %d must be positive", c.TracesPoolLength))
	}
	for name, n := range map[string]int{
		"sys_event_queue_capacity":    c.SysEventQueueCapacity,
		"ble_event_queue_capacity":    c.BleEventQueueCapacity,
		"traces_event_queue_capacity": c.TracesEventQueueCapacity,
		"mac_event_queue_capacity":    c.MacEventQueueCapacity,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s %d must be positive", name, n))
		}
	}
	if len(errs) == 0 {
		if end := uint64(c.BaseAddr) + uint64(layoutSize(c)); end > 1<<32 {
			errs = append(errs, fmt.Errorf("memory map ends at 0x%x beyond the 32-bit bus", end))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tlmbox: invalid config: %w", err)
	}
	return nil
}

func (c Config) base() shm.Addr { return shm.Addr(c.BaseAddr) }

func (c Config) fatal(err error) {
	if c.OnFatal != nil {
		c.OnFatal(err)
		return
	}
	panic(err)
}
