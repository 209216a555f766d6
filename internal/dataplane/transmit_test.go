package dataplane

import (
	"testing"

	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/queue"
)

func TestTransmitWorkerInvokesCallback(t *testing.T) {
	output := queue.New(4)
	type call struct {
		port int
		n    int
	}
	var calls []call
	w := &TransmitWorker{
		Output: output,
		TransmitFn: func(port int, buffer []byte, length int) {
			calls = append(calls, call{port: port, n: length})
		},
	}

	pkt := newTestPacket(0, 1, 42)
	pkt.PHV.SetField(packet.FieldEgressPort, 7)
	output.PushFront(pkt)
	output.PushFront(nil)

	w.Run()

	if len(calls) != 1 {
		t.Fatalf("expected one transmit callback, got %d", len(calls))
	}
	if calls[0].port != 7 || calls[0].n != 42 {
		t.Fatalf("expected (port=7, len=42), got %+v", calls[0])
	}
}

func TestTransmitWorkerStopsOnNilWithoutPanickingOnNilCallback(t *testing.T) {
	output := queue.New(4)
	w := &TransmitWorker{Output: output}
	output.PushFront(nil)
	w.Run() // must return promptly; no callback configured
}
