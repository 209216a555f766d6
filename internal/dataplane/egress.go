package dataplane

import (
	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/queue"
	"github.com/NodePath81/pswitch/internal/util"
)

// EgressWorker is one of nb_egress_threads parallel egress threads
// (component F), each owning the disjoint set of ports the per-port
// multi-queue's worker mapping assigns it (spec.md §4.5).
type EgressWorker struct {
	WorkerID int
	Egress   *queue.PortQueue
	Output   *queue.Queue
	Input    *queue.Queue
	Programs ProgramSource

	MirrorMap     program.MirrorMap
	PriorityField string
	NextID        func() uint64
	Clock         Clock
	Logger        util.Logger
}

// Run drives the egress loop for this worker until a shutdown sentinel is
// popped for its worker id.
func (w *EgressWorker) Run() {
	for {
		item := w.Egress.PopBack(w.WorkerID)
		if item == nil {
			return
		}
		w.process(item)
	}
}

func (w *EgressWorker) process(item *queue.Item) {
	p := item.Packet
	port := item.Port

	if p.PHV.WithQueueingMetadata() {
		enqTs, _ := p.PHV.GetField(packet.FieldEnqTimestamp)
		now := uint64(0)
		if w.Clock != nil {
			now = w.Clock.NowMicros()
		}
		p.PHV.SetField(packet.FieldDeqTimedelta, now-enqTs)
		p.PHV.SetField(packet.FieldDeqQdepth, uint64(w.Egress.Size(port)))
		qid := uint64(0)
		if w.Egress.NBQueues() > 1 {
			qid = uint64(w.Egress.NBQueues() - 1 - item.Priority)
		}
		p.PHV.SetField(packet.FieldQid, qid)
	}

	p.PHV.SetField(packet.FieldEgressPort, uint64(port))
	p.PHV.SetField(packet.FieldEgressSpec, 0)
	p.PHV.SetField(packet.FieldPacketLength, uint64(p.OriginalLength()))

	prog := w.Programs.Current()
	if prog == nil {
		w.warn("no forwarding program loaded, dropping packet", "packet_id", p.ID)
		return
	}
	if err := prog.EgressPipeline.Apply(p); err != nil {
		w.warn("egress pipeline error, dropping packet", "packet_id", p.ID, "error", err)
		return
	}

	// Step 5: egress cloning.
	if cloneSpec, _ := p.PHV.GetField(packet.FieldCloneSpec); cloneSpec != 0 {
		w.egressClone(p, cloneSpec, prog)
	}

	if egressSpec, _ := p.PHV.GetField(packet.FieldEgressSpec); int(egressSpec) == packet.DropPort {
		return
	}

	if err := prog.Deparser.Deparse(p); err != nil {
		w.warn("deparse error, dropping packet", "packet_id", p.ID, "error", err)
		return
	}

	// Step 8: recirculate. Short-circuits; the output path is skipped.
	if recircFlag, _ := p.PHV.GetField(packet.FieldRecirculateFlag); recircFlag != 0 {
		w.recirculate(p, recircFlag, prog)
		return
	}

	w.Output.PushFront(p)
}

func (w *EgressWorker) egressClone(p *packet.Packet, cloneSpec uint64, prog *program.Program) {
	mirrorID, fieldListID := decodeCloneSpec(cloneSpec)
	p.PHV.SetField(packet.FieldCloneSpec, 0)

	if w.MirrorMap == nil {
		return
	}
	egressPort := w.MirrorMap.GetMirroringMapping(mirrorID)
	if egressPort < 0 {
		return
	}

	clone := p.CloneWithPHVResetMetadata(w.NextID())
	copyDeclaredFields(clone.PHV, p.PHV, prog.FieldLists, fieldListID, packet.InstanceEgressClone)
	pushToEgress(w.Egress, w.Clock, egressPort, priorityOf(clone.PHV, w.PriorityField), clone)
}

func (w *EgressWorker) recirculate(p *packet.Packet, recircFlag uint64, prog *program.Program) {
	fieldListID := uint32(recircFlag)
	p.PHV.SetField(packet.FieldRecirculateFlag, 0)

	clone := p.CloneNoPHV(w.NextID())
	copyDeclaredFields(clone.PHV, p.PHV, prog.FieldLists, fieldListID, packet.InstanceRecirc)

	deparsedLen := int64(p.Len())
	clone.SetRegister(packet.RegOriginalLength, deparsedLen)
	clone.PHV.SetField(packet.FieldPacketLength, uint64(deparsedLen))

	w.Input.PushFront(clone)
}

func (w *EgressWorker) warn(msg string, args ...any) {
	if w.Logger != nil {
		w.Logger.Warn(msg, args...)
	}
}
