package tlmbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/xll-gen/tlmbox"
	"github.com/xll-gen/tlmbox/internal/cpu2"
	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

type rig struct {
	mbox *tlmbox.TlMbox
	fw   *cpu2.Firmware
	g    *errgroup.Group
	stop context.CancelFunc
}

func startRig(t *testing.T, mutate func(*tlmbox.Config), tune func(*cpu2.Options)) *rig {
	t.Helper()
	cfg := tlmbox.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	layout, err := tlmbox.NewLayout(cfg)
	require.NoError(t, err)
	mem, err := layout.NewRegion()
	require.NoError(t, err)

	p := ipcc.New()
	opts := cpu2.OptionsFor(layout)
	opts.Logger = zaptest.NewLogger(t)
	if tune != nil {
		tune(&opts)
	}
	fw := cpu2.New(mem, p, opts)

	ctx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fw.Run(gctx) })

	mbox, err := tlmbox.Init(mem, p, cfg)
	require.NoError(t, err)
	r := &rig{mbox: mbox, fw: fw, g: g, stop: stop}
	t.Cleanup(func() {
		stop()
		g.Wait()
		mbox.Close()
	})
	return r
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (r *rig) ready(t *testing.T) {
	t.Helper()
	kind, err := r.mbox.Sys().WaitReady(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, tlmbox.ReadyWirelessFw, kind)
}

// statsReach returns a condition for require.Eventually.
func (r *rig) statsReach(cond func(cpu2.Stats) bool) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s, err := r.fw.Stats(ctx)
		return err == nil && cond(s)
	}
}

func TestBootAndDeviceInfo(t *testing.T) {
	r := startRig(t, nil, nil)
	r.ready(t)

	info := r.mbox.WirelessFwInfo()
	require.Equal(t, cpu2.DefaultFwInfo, info)
	require.Equal(t, uint8(1), info.VersionMajor())
	require.Equal(t, uint8(17), info.VersionMinor())

	require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool {
		return s.FreeEvtBuffers == 5 && s.FreeTracesBuffers == 4 && s.SparesAvailable == 3
	}), 2*time.Second, time.Millisecond, "every buffer is back with the coprocessor")
}

func TestSystemCommand(t *testing.T) {
	r := startRig(t, nil, func(o *cpu2.Options) {
		o.SysHandler = func(cmd tlmbox.CmdPacket) tlmbox.CommandOutcome {
			return tlmbox.CommandOutcome{
				EvtCode: tlmbox.EvtCodeCommandComplete,
				NumCmd:  1,
				Opcode:  cmd.Opcode,
				Payload: append([]byte{0x00}, cmd.Payload...),
			}
		}
	})
	r.ready(t)

	for _, n := range []int{0, 1, 8, 200, 251} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}
		out, err := r.mbox.Sys().WriteAndGetResponse(testCtx(t), 0xFC66, payload)
		require.NoError(t, err)
		require.Equal(t, uint16(0xFC66), out.Opcode)
		require.Equal(t, append([]byte{0x00}, payload...), out.Payload)
	}
}

func TestHciCommands(t *testing.T) {
	r := startRig(t, nil, func(o *cpu2.Options) {
		o.BleHandler = func(cmd tlmbox.CmdPacket) tlmbox.CommandOutcome {
			if cmd.Opcode == 0x2005 {
				return tlmbox.CommandOutcome{EvtCode: tlmbox.EvtCodeCommandStatus, NumCmd: 1, Opcode: cmd.Opcode}
			}
			return tlmbox.CommandOutcome{EvtCode: tlmbox.EvtCodeCommandComplete, NumCmd: 1, Opcode: cmd.Opcode, Payload: []byte{0x00}}
		}
	})
	r.ready(t)
	ble := r.mbox.Ble()

	out, err := ble.Command(testCtx(t), 0x0C03, nil)
	require.NoError(t, err)
	require.True(t, out.Complete())
	require.Equal(t, uint8(1), out.NumCmd)
	require.Equal(t, []byte{0x00}, out.Payload)

	out, err = ble.Command(testCtx(t), 0x2005, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.False(t, out.Complete())
	require.Equal(t, uint16(0x2005), out.Opcode)

	for i := 0; i < 20; i++ {
		_, err := ble.Command(testCtx(t), 0x0C03, nil)
		require.NoError(t, err)
	}
	require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool { return s.FreeEvtBuffers == 5 }), 2*time.Second, time.Millisecond)
}

func TestAclData(t *testing.T) {
	r := startRig(t, nil, nil)
	r.ready(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.mbox.Ble().AclWrite(testCtx(t), 0x0040, []byte{byte(i), 0xEE}))
		select {
		case p := <-r.fw.Acl():
			require.Equal(t, uint16(0x0040), p.Handle)
			require.Equal(t, []byte{byte(i), 0xEE}, p.Data)
		case <-time.After(2 * time.Second):
			t.Fatal("acl data never reached the coprocessor")
		}
	}
}

func TestAsyncEventsAndTraces(t *testing.T) {
	r := startRig(t, nil, nil)
	r.ready(t)
	ctx := testCtx(t)

	require.NoError(t, r.fw.PostBleEvent(ctx, 0x3E, []byte{0x01, 0x02, 0x03}))
	evt, err := r.mbox.Ble().Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, tlmbox.TypeBleEvt, evt.Kind())
	buf := make([]byte, 16)
	n, err := evt.CopyTo(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x3E, 0x03, 0x01, 0x02, 0x03}, buf[:n])
	evt.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, r.fw.PostTrace(ctx, []byte{byte(i)}))
	}
	for i := 0; i < 4; i++ {
		evt, err := r.mbox.Traces().Recv(ctx)
		require.NoError(t, err)
		p, err := evt.Payload()
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, p)
		evt.Close()
	}
	require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool {
		return s.FreeEvtBuffers == 5 && s.FreeTracesBuffers == 4
	}), 2*time.Second, time.Millisecond)

	require.NoError(t, r.fw.PostSysEvent(ctx, tlmbox.SysSubEvtErrorNotif, []byte{0x7F}))
	evt, err = r.mbox.Sys().Recv(ctx)
	require.NoError(t, err)
	a, err := evt.AsynchEvt()
	require.NoError(t, err)
	require.Equal(t, tlmbox.SysSubEvtErrorNotif, a.SubEvtCode)
	evt.Close()
}

func TestMacNotificationsAreAcked(t *testing.T) {
	r := startRig(t, func(c *tlmbox.Config) { c.MacEventQueueCapacity = 1 }, nil)
	r.ready(t)
	ctx := testCtx(t)

	out, err := r.mbox.Mac().WriteAndGetResponse(ctx, 0x0280, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, uint16(0x0280), out.Opcode)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.fw.PostMacNotification(ctx, []byte{0xA0 + byte(i)}))
	}
	for i := 0; i < 3; i++ {
		evt, err := r.mbox.Mac().Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, tlmbox.TypeOtNot, evt.Kind())
		p, err := evt.Payload()
		require.NoError(t, err)
		require.Equal(t, []byte{0xA0 + byte(i)}, p)
		evt.Close()
	}
	require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool { return s.MacAcks == 3 }), 2*time.Second, time.Millisecond)
}

func TestPoolExhaustionHaltsFirmware(t *testing.T) {
	r := startRig(t, func(c *tlmbox.Config) { c.EvtQueueLength = 4 }, nil)
	r.ready(t)
	ctx := testCtx(t)
	require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool { return s.FreeEvtBuffers == 4 }), 2*time.Second, time.Millisecond)

	var held []*tlmbox.EvtBox
	for i := 0; i < 4; i++ {
		require.NoError(t, r.fw.PostBleEvent(ctx, 0x3E, []byte{byte(i)}))
		evt, err := r.mbox.Ble().Recv(ctx)
		require.NoError(t, err)
		held = append(held, evt)
	}

	err := r.fw.PostBleEvent(ctx, 0x3E, nil)
	var ce *tlmbox.CapacityError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, tlmbox.ErrPoolExhausted)
	require.Equal(t, 4, ce.Capacity)

	require.ErrorIs(t, r.g.Wait(), tlmbox.ErrPoolExhausted)
	for _, evt := range held {
		evt.Close()
	}
}

func TestMalformedEventsFromFirmware(t *testing.T) {
	t.Run("short command complete", func(t *testing.T) {
		r := startRig(t, nil, nil)
		r.ready(t)
		ctx := testCtx(t)

		require.NoError(t, r.fw.PostBleEvent(ctx, tlmbox.EvtCodeCommandComplete, []byte{0x01}))
		evt, err := r.mbox.Ble().Recv(ctx)
		require.NoError(t, err)
		_, err = evt.CcEvt()
		var de *tlmbox.DecodeError
		require.True(t, errors.As(err, &de))
		evt.Close()
		require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool { return s.FreeEvtBuffers == 5 }), 2*time.Second, time.Millisecond)
	})

	t.Run("unknown packet type", func(t *testing.T) {
		r := startRig(t, nil, nil)
		r.ready(t)
		ctx := testCtx(t)

		for _, code := range []uint8{0x3E, tlmbox.EvtCodeCommandComplete} {
			require.NoError(t, r.fw.PostBleRecord(ctx, func(mem *shm.Region, a shm.Addr, size int) {
				tlmbox.WriteEvtPacket(mem, a, size, tlmbox.TlPacketType(0x77), code,
					tlmbox.EncodeCcEvt(tlmbox.CcEvt{NumCmd: 1, CmdCode: 0x0C03}))
			}))
			evt, err := r.mbox.Ble().Recv(ctx)
			require.NoError(t, err)
			require.Equal(t, code, evt.Stub().EvtCode)
			_, err = evt.Payload()
			require.ErrorIs(t, err, tlmbox.ErrMalformed)
			require.ErrorContains(t, err, "unknown packet type 0x77")
			evt.Close()
		}
		_, ok := r.mbox.Ble().Events().TryRecv()
		require.False(t, ok)
		require.Eventually(t, r.statsReach(func(s cpu2.Stats) bool { return s.FreeEvtBuffers == 5 }), 2*time.Second, time.Millisecond)
	})

	t.Run("length past the buffer", func(t *testing.T) {
		r := startRig(t, func(c *tlmbox.Config) { c.MostEventPayloadSize = 16 }, nil)
		r.ready(t)
		ctx := testCtx(t)

		require.NoError(t, r.fw.PostBleRecord(ctx, func(mem *shm.Region, a shm.Addr, size int) {
			tlmbox.WriteEvtPacket(mem, a, size, tlmbox.TypeBleEvt, 0x3E, nil)
			mem.Store8(a.Add(10), 0xFF)
		}))
		evt, err := r.mbox.Ble().Recv(ctx)
		require.NoError(t, err)
		_, err = evt.Payload()
		require.ErrorIs(t, err, tlmbox.ErrMalformed)
		_, err = evt.Size()
		require.ErrorIs(t, err, tlmbox.ErrMalformed)
		evt.Close()
	})
}
