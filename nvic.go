package tlmbox

import (
	"context"

	"github.com/xll-gen/tlmbox/ipcc"
)

type irqHandler struct {
	ch ipcc.Channel
	fn func()
}

// nvic runs the application core's doorbell handlers on one goroutine.
// Handlers never run concurrently with each other.
type nvic struct {
	core *ipcc.Core
	rx   []irqHandler
	tx   []irqHandler
}

func (n *nvic) onRx(ch ipcc.Channel, fn func()) { n.rx = append(n.rx, irqHandler{ch, fn}) }
func (n *nvic) onTx(ch ipcc.Channel, fn func()) { n.tx = append(n.tx, irqHandler{ch, fn}) }

func (n *nvic) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.core.RxIRQ():
			for _, h := range n.rx {
				if n.core.RxInterruptEnabled(h.ch) && n.core.IsRxActive(h.ch) {
					h.fn()
				}
			}
		case <-n.core.TxIRQ():
			for _, h := range n.tx {
				if n.core.TxInterruptEnabled(h.ch) && !n.core.IsTxActive(h.ch) {
					h.fn()
				}
			}
		}
	}
}
