package tlmbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

// sender owns an outbound buffer that the coprocessor hands back by
// clearing the channel flag.
type sender struct {
	name string
	core *ipcc.Core
	ch   ipcc.Channel
	sem  chan struct{}
	free *Signal[struct{}]
}

func newSender(name string, core *ipcc.Core, ch ipcc.Channel) *sender {
	return &sender{name: name, core: core, ch: ch, sem: make(chan struct{}, 1), free: NewSignal[struct{}]()}
}

// send waits for the buffer, fills it with write and rings the doorbell.
func (s *sender) send(ctx context.Context, write func() error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	for s.core.IsTxActive(s.ch) {
		s.core.SetTxInterrupt(s.ch, true)
		if _, err := s.free.Wait(ctx); err != nil {
			return err
		}
	}
	if err := write(); err != nil {
		return err
	}
	s.core.SetFlag(s.ch)
	Logger().Debug("doorbell", zap.String("channel", s.name))
	return nil
}

func (s *sender) onTxFree() {
	if s.core.IsTxActive(s.ch) {
		return
	}
	s.core.SetTxInterrupt(s.ch, false)
	s.free.Signal(struct{}{})
}

type exchangeResult struct {
	out CommandOutcome
	err error
}

// exchange is a command buffer the coprocessor answers in place: the
// response overwrites the command and the flag clears once it is written.
// One command is outstanding at a time. The slot is freed by the TX-free
// handler, not by the caller, so a cancelled caller never lets a new
// command overwrite a buffer the coprocessor still reads.
type exchange struct {
	name   string
	mem    *shm.Region
	core   *ipcc.Core
	ch     ipcc.Channel
	buf    shm.Addr
	typ    TlPacketType
	sem    chan struct{}
	result *Signal[exchangeResult]
	onBad  func(error)
}

func newExchange(name string, mem *shm.Region, core *ipcc.Core, ch ipcc.Channel, buf shm.Addr, typ TlPacketType, onBad func(error)) *exchange {
	return &exchange{
		name:   name,
		mem:    mem,
		core:   core,
		ch:     ch,
		buf:    buf,
		typ:    typ,
		sem:    make(chan struct{}, 1),
		result: NewSignal[exchangeResult](),
		onBad:  onBad,
	}
}

func (x *exchange) roundTrip(ctx context.Context, opcode uint16, payload []byte) (CommandOutcome, error) {
	if len(payload) > MaxPayloadSize {
		return CommandOutcome{}, fmt.Errorf("%w: %s command payload %d > %d", ErrPayloadTooLarge, x.name, len(payload), MaxPayloadSize)
	}
	select {
	case x.sem <- struct{}{}:
	case <-ctx.Done():
		return CommandOutcome{}, ctx.Err()
	}
	x.result.Reset()
	if err := WriteCmdPacket(x.mem, x.buf, x.typ, opcode, payload); err != nil {
		<-x.sem
		return CommandOutcome{}, err
	}
	x.core.SetFlag(x.ch)
	x.core.SetTxInterrupt(x.ch, true)
	Logger().Debug("command sent", zap.String("channel", x.name), zap.Uint16("opcode", opcode), zap.Int("len", len(payload)))

	r, err := x.result.Wait(ctx)
	if err != nil {
		return CommandOutcome{}, err
	}
	return r.out, r.err
}

func (x *exchange) onTxFree() {
	if x.core.IsTxActive(x.ch) {
		return
	}
	x.core.SetTxInterrupt(x.ch, false)
	out, err := ReadCommandResponse(x.mem, x.buf, CmdPacketSize)
	if err != nil {
		x.onBad(err)
	}
	x.result.Signal(exchangeResult{out: out, err: err})
	select {
	case <-x.sem:
	default:
	}
}
