package dataplane

import (
	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/queue"
)

// TransmitWorker is the single transmit thread (component G): it drains
// the output queue and invokes the host-provided transmit callback. No
// retries — the callback is authoritative (spec.md §4.6).
type TransmitWorker struct {
	Output     *queue.Queue
	TransmitFn program.TransmitFunc
}

// Run drives the transmit loop until a shutdown sentinel is popped from
// the output queue.
func (w *TransmitWorker) Run() {
	for {
		p := w.Output.PopBack()
		if p == nil {
			return
		}
		w.transmit(p)
	}
}

func (w *TransmitWorker) transmit(p *packet.Packet) {
	if w.TransmitFn == nil {
		return
	}
	port, _ := p.PHV.GetField(packet.FieldEgressPort)
	w.TransmitFn(int(port), p.Bytes(), p.Len())
}
