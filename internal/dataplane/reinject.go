// Package dataplane implements the ingress worker (E), egress worker(s)
// (F), transmit worker (G), and the reinjection helpers (I) shared by the
// five packet-reinjection paths: ingress clone, egress clone, resubmit,
// recirculate, and multicast replication.
package dataplane

import (
	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/queue"
)

// fieldListFor resolves a program-declared field-list id to its field
// names. An unregistered id (or a program with no registry) copies
// nothing rather than erroring — a program author's field-list mistake
// should not crash the worker.
func fieldListFor(reg program.FieldListRegistry, id uint32) []string {
	if reg == nil {
		return nil
	}
	names, ok := reg.GetFieldList(id)
	if !ok {
		return nil
	}
	return names
}

// copyDeclaredFields copies fieldListID's fields from src into dst and
// stamps dst's instance type, the shared tail of the clone, resubmit and
// recirculate paths (spec.md §4.4 steps 7/9, §4.5 steps 5/8). Multicast
// replicas keep the full PHV and only have their instance type stamped.
func copyDeclaredFields(dst, src *packet.PHV, reg program.FieldListRegistry, fieldListID uint32, instance packet.InstanceType) {
	packet.CopyFieldList(dst, src, fieldListFor(reg, fieldListID))
	dst.SetInstanceType(instance)
}

// priorityOf reads the configured priority field from phv, defaulting to 0
// when the field name is unset or not declared on the program (spec.md §9
// open question a).
func priorityOf(phv *packet.PHV, fieldName string) int {
	if fieldName == "" || phv == nil {
		return 0
	}
	v, ok := phv.GetField(fieldName)
	if !ok {
		return 0
	}
	return int(v)
}

// decodeCloneSpec decodes standard_metadata.clone_spec into its mirror id (low
// 16 bits) and field-list id (high 16 bits), per spec.md §6 sentinel
// values.
func decodeCloneSpec(spec uint64) (mirrorID uint32, fieldListID uint32) {
	return uint32(spec & 0xFFFF), uint32(spec >> 16)
}

// pushToEgress stamps enq_timestamp and enq_qdepth (when the program
// declared the full queueing_metadata set) and hands the packet to the
// per-port multi-queue. This is the single boundary crossing from
// ownership-by-worker to ownership-by-queue-slot for every path that
// targets component B.
func pushToEgress(egress *queue.PortQueue, clock Clock, port, priority int, p *packet.Packet) {
	if clock != nil && p.PHV != nil && p.PHV.WithQueueingMetadata() {
		p.PHV.SetField(packet.FieldEnqTimestamp, clock.NowMicros())
		p.PHV.SetField(packet.FieldEnqQdepth, uint64(egress.Size(port)))
	}
	egress.PushFront(port, priority, p)
}
