package tlmbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

const waitFor = 2 * time.Second

// harness runs the transport against a hand-driven coprocessor.
type harness struct {
	t     *testing.T
	mbox  *TlMbox
	mem   *shm.Region
	p     *ipcc.IPCC
	core2 *ipcc.Core
	l     Layout
	fatal chan error
	owned []shm.Addr
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, fatal: make(chan error, 8)}
	cfg := DefaultConfig()
	cfg.OnFatal = func(err error) { h.fatal <- err }
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := NewLayout(cfg)
	require.NoError(t, err)
	mem, err := l.NewRegion()
	require.NoError(t, err)
	h.l, h.mem, h.p = l, mem, ipcc.New()
	h.mbox, err = Init(mem, h.p, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { h.mbox.Close() })
	h.core2 = h.p.Core(ipcc.Core2)
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	h.t.Cleanup(cancel)
	return ctx
}

// takeFree moves the shared free queue into owned, optionally handing the
// queue back by clearing the release flag.
func (h *harness) takeFree(clear bool) []shm.Addr {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.core2.IsRxActive(ChannelMmReleaseBuffer) }, waitFor, time.Millisecond)
	q := NewLinkedList(h.mem, h.l.FreeBufQueue)
	var got []shm.Addr
	for {
		a, ok := q.RemoveHead()
		if !ok {
			break
		}
		got = append(got, a)
	}
	h.owned = append(h.owned, got...)
	if clear {
		h.core2.ClearFlag(ChannelMmReleaseBuffer)
	}
	return got
}

// takeFreeN keeps taking the free queue until n buffers came back. Each
// take hands the queue back so later flushes can follow.
func (h *harness) takeFreeN(n int) []shm.Addr {
	h.t.Helper()
	var got []shm.Addr
	for len(got) < n {
		got = append(got, h.takeFree(true)...)
	}
	return got
}

// claim hands out a buffer taken from the free queue.
func (h *harness) claim() shm.Addr {
	h.t.Helper()
	require.NotEmpty(h.t, h.owned, "harness ran out of buffers")
	a := h.owned[0]
	h.owned = h.owned[1:]
	return a
}

func (h *harness) writeEvt(a shm.Addr, kind TlPacketType, code uint8, payload []byte) shm.Addr {
	h.t.Helper()
	require.NoError(h.t, WriteEvtPacket(h.mem, a, h.l.EvtBufferSize, kind, code, payload))
	return a
}

// post links buffers into a queue and rings the channel, as the
// coprocessor does once the channel is free.
func (h *harness) post(ch ipcc.Channel, head shm.Addr, bufs ...shm.Addr) {
	h.t.Helper()
	require.False(h.t, h.core2.IsTxActive(ch), "channel %d still owned by the application core", ch)
	q := NewLinkedList(h.mem, head)
	for _, a := range bufs {
		q.InsertTail(a)
	}
	h.core2.SetFlag(ch)
}

func (h *harness) waitCleared(ch ipcc.Channel) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return !h.core2.IsTxActive(ch) }, waitFor, time.Millisecond)
}

func (h *harness) noFatal() {
	h.t.Helper()
	select {
	case err := <-h.fatal:
		h.t.Fatalf("unexpected fatal: %v", err)
	default:
	}
}
