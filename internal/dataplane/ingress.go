package dataplane

import (
	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/queue"
	"github.com/NodePath81/pswitch/internal/util"
)

// ProgramSource hands the ingress/egress workers the currently active
// forwarding program, read fresh on every packet so a program swap takes
// effect without a restart (spec.md §9 "Program swap").
type ProgramSource interface {
	Current() *program.Program
}

// TableUpdateHook is invoked after the ingress pipeline applies, the
// optional "lfu logic" side feature (spec.md §4.6). A nil hook disables
// the feature entirely.
type TableUpdateHook func(p *packet.Packet)

// IngressWorker is the single ingress thread (component E): it drains the
// input queue and drives parse -> ingress pipeline -> clone/resubmit/
// multicast/drop/enqueue (spec.md §4.4).
type IngressWorker struct {
	Input    *queue.Queue
	Egress   *queue.PortQueue
	Programs ProgramSource

	MirrorMap      program.MirrorMap
	PreReplication program.PreReplicationEngine
	LearnEngine    program.LearnEngine
	TableHook      TableUpdateHook

	PriorityField string
	NextID        func() uint64
	Clock         Clock
	Logger        util.Logger
}

// Run drives the ingress loop until a shutdown sentinel (nil) is popped
// from the input queue.
func (w *IngressWorker) Run() {
	for {
		p := w.Input.PopBack()
		if p == nil {
			return
		}
		w.process(p)
	}
}

func (w *IngressWorker) process(p *packet.Packet) {
	sIn := p.SaveBufferState()

	prog := w.Programs.Current()
	if prog == nil {
		w.warn("no forwarding program loaded, dropping packet", "packet_id", p.ID)
		return
	}

	if err := prog.Parser.Parse(p); err != nil {
		w.warn("parse error, dropping packet", "packet_id", p.ID, "error", err)
		return
	}
	if err := prog.IngressPipeline.Apply(p); err != nil {
		w.warn("ingress pipeline error, dropping packet", "packet_id", p.ID, "error", err)
		return
	}
	if w.TableHook != nil {
		w.TableHook(p)
	}

	egressSpec, _ := p.PHV.GetField(packet.FieldEgressSpec)
	cloneSpec, _ := p.PHV.GetField(packet.FieldCloneSpec)
	learnID, _ := p.PHV.GetField(packet.FieldLFFieldList)
	mcastGrp, _ := p.PHV.GetField(packet.FieldMcastGrp)

	// Step 7: ingress cloning.
	if cloneSpec != 0 {
		w.ingressClone(p, sIn, cloneSpec, prog)
	}

	// Step 8: learning.
	if learnID != 0 && w.LearnEngine != nil {
		if err := w.LearnEngine.Learn(uint32(learnID), p); err != nil {
			w.warn("learn engine error", "packet_id", p.ID, "error", err)
		}
	}

	// Step 9: resubmit. Short-circuits the rest of processing.
	if resubmitFlag, _ := p.PHV.GetField(packet.FieldResubmitFlag); resubmitFlag != 0 {
		w.resubmit(p, sIn, resubmitFlag)
		return
	}

	// Step 10: multicast. Short-circuits; the original is dropped.
	if mcastGrp != 0 {
		w.multicast(p, mcastGrp)
		return
	}

	// Step 11: unicast or drop.
	egressPort := int(egressSpec)
	if egressPort == packet.DropPort {
		return
	}
	pushToEgress(w.Egress, w.Clock, egressPort, priorityOf(p.PHV, w.PriorityField), p)
}

func (w *IngressWorker) ingressClone(p *packet.Packet, sIn packet.BufferState, cloneSpec uint64, prog *program.Program) {
	mirrorID, fieldListID := decodeCloneSpec(cloneSpec)
	p.PHV.SetField(packet.FieldCloneSpec, 0)

	egressPort := -1
	if w.MirrorMap != nil {
		egressPort = w.MirrorMap.GetMirroringMapping(mirrorID)
	}
	if egressPort < 0 {
		return
	}

	sOut := p.SaveBufferState()
	p.RestoreBufferState(sIn)
	clone := p.CloneNoPHV(w.NextID())
	if err := prog.Parser.Parse(clone); err != nil {
		w.warn("ingress clone re-parse failed, dropping clone", "packet_id", p.ID, "error", err)
		p.RestoreBufferState(sOut)
		return
	}
	copyDeclaredFields(clone.PHV, p.PHV, prog.FieldLists, fieldListID, packet.InstanceIngressClone)
	pushToEgress(w.Egress, w.Clock, egressPort, priorityOf(clone.PHV, w.PriorityField), clone)
	p.RestoreBufferState(sOut)
}

func (w *IngressWorker) resubmit(p *packet.Packet, sIn packet.BufferState, resubmitFlag uint64) {
	p.RestoreBufferState(sIn)
	fieldListID := uint32(resubmitFlag)
	p.PHV.SetField(packet.FieldResubmitFlag, 0)

	prog := w.Programs.Current()
	clone := p.CloneNoPHV(w.NextID())
	var reg program.FieldListRegistry
	if prog != nil {
		reg = prog.FieldLists
	}
	copyDeclaredFields(clone.PHV, p.PHV, reg, fieldListID, packet.InstanceResubmit)
	w.Input.PushFront(clone)
}

func (w *IngressWorker) multicast(p *packet.Packet, mcastGrp uint64) {
	if w.PreReplication == nil {
		return
	}
	replicas, err := w.PreReplication.Replicate(uint32(mcastGrp))
	if err != nil {
		w.warn("multicast replication failed", "packet_id", p.ID, "mgid", mcastGrp, "error", err)
		return
	}
	for _, r := range replicas {
		rep := p.CloneWithPHV(w.NextID())
		rep.PHV.SetField(packet.FieldEgressRid, r.Rid)
		rep.PHV.SetInstanceType(packet.InstanceReplication)
		pushToEgress(w.Egress, w.Clock, r.EgressPort, priorityOf(rep.PHV, w.PriorityField), rep)
	}
}

func (w *IngressWorker) warn(msg string, args ...any) {
	if w.Logger != nil {
		w.Logger.Warn(msg, args...)
	}
}
