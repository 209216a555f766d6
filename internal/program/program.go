// Package program declares the external collaborator interfaces the core
// depends on but does not implement: the compiled forwarding program
// (parser, pipelines, deparser, field-list registry), the pre-replication
// engine, the learn engine, the mirroring map, and the match-action
// runtime. Spec.md §1 names these explicitly out of scope; §6 names their
// contracts. A minimal reference implementation lives in
// internal/refprogram, used by its own tests and by the cmd/pswitch demo.
package program

import "github.com/NodePath81/pswitch/internal/packet"

// Parser consumes the packet's raw buffer and populates its PHV. It may
// fail mid-parse (a malformed packet); the core treats a parse error as
// "stop processing this packet" rather than a fatal condition.
type Parser interface {
	Parse(p *packet.Packet) error
}

// Pipeline is a match-action stage: ingress or egress. It reads and writes
// the PHV in place.
type Pipeline interface {
	Apply(p *packet.Packet) error
}

// Deparser materializes the PHV's header fields back into the packet's raw
// buffer.
type Deparser interface {
	Deparse(p *packet.Packet) error
}

// FieldListRegistry resolves a program-declared field-list id to the
// concrete field names it copies between PHVs on clone/resubmit/
// recirculate.
type FieldListRegistry interface {
	GetFieldList(id uint32) ([]string, bool)
}

// Replica is one multicast replication target.
type Replica struct {
	EgressPort int
	Rid        uint64
}

// PreReplicationEngine maps a multicast group id to its replica list. It is
// an external collaborator (spec.md §1): the core only consumes its
// output.
type PreReplicationEngine interface {
	Replicate(mgid uint32) ([]Replica, error)
}

// LearnEngine receives learn notifications keyed by field-list id.
type LearnEngine interface {
	Learn(id uint32, p *packet.Packet) error
}

// MirrorMap resolves a 16-bit mirror id to an egress port, or a negative
// number if the mirror id has no mapping (a "mirroring miss", spec.md §7).
type MirrorMap interface {
	GetMirroringMapping(mirrorID uint32) int
}

// MatchActionRuntime is the external table-mutation surface used only by
// the optional table-update hook (spec.md §4.6, §9). It is not otherwise on
// the packet hot path.
type MatchActionRuntime interface {
	AddEntry(tableID uint32, key []byte, actionID uint32, actionParams []byte) error
	ModifyEntry(tableID uint32, key []byte, actionID uint32, actionParams []byte) error
	DeleteEntry(tableID uint32, key []byte) error
	GetEntry(tableID uint32, key []byte) (actionID uint32, actionParams []byte, ok bool)
}

// TransmitFunc is the host-provided callback invoked by the transmit
// worker (component G). No retries: the callback is authoritative.
type TransmitFunc func(port int, buffer []byte, length int)

// Program bundles one forwarding program's collaborators: the unit that is
// swapped atomically at a program-swap boundary (spec.md §9 "Program
// swap"). Pipelines and tables outlive the bundle's pointer identity;
// swapping replaces which bundle ingress/egress dereference.
type Program struct {
	Parser          Parser
	IngressPipeline Pipeline
	EgressPipeline  Pipeline
	Deparser        Deparser
	FieldLists      FieldListRegistry
}
