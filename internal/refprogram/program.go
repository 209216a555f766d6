// Package refprogram is a minimal reference forwarding program: a parser,
// ingress/egress pipelines, a deparser and a field-list registry
// implementing the external interfaces spec.md §6 names as out of scope
// for the core (the compiler/loader). It exists only so this repository's
// own tests and its runnable CLI demo have something concrete to drive
// through internal/dataplane and internal/app; it is not itself part of
// the core's specification.
package refprogram

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/NodePath81/pswitch/internal/packet"
)

// Ethernet-like header field names this reference program declares on top
// of the standard/queueing/intrinsic metadata groups.
const (
	FieldDstMAC     = "ethernet.dst_mac"
	FieldSrcMAC     = "ethernet.src_mac"
	FieldEtherType  = "ethernet.ethertype"
	headerLen       = 6 + 6 + 2
	broadcastMAC    = 0xFFFFFFFFFFFF
)

// FieldDefs returns the full field declaration set a switch constructed
// around this reference program should register: standard metadata, the
// optional queueing/intrinsic metadata groups, and this program's own
// ethernet-like headers.
func FieldDefs() []packet.FieldDef {
	return []packet.FieldDef{
		{Name: packet.FieldIngressPort, BitWidth: 16},
		{Name: packet.FieldPacketLength, BitWidth: 32},
		{Name: packet.FieldInstanceType, BitWidth: 8},
		{Name: packet.FieldEgressSpec, BitWidth: 16},
		{Name: packet.FieldCloneSpec, BitWidth: 32},
		{Name: packet.FieldEgressPort, BitWidth: 16},

		{Name: packet.FieldEnqTimestamp, BitWidth: 32},
		{Name: packet.FieldEnqQdepth, BitWidth: 16},
		{Name: packet.FieldDeqTimedelta, BitWidth: 32},
		{Name: packet.FieldDeqQdepth, BitWidth: 16},
		{Name: packet.FieldQid, BitWidth: 8},

		{Name: packet.FieldIngressGlobalTimestamp, BitWidth: 48},
		{Name: packet.FieldLFFieldList, BitWidth: 32},
		{Name: packet.FieldMcastGrp, BitWidth: 16},
		{Name: packet.FieldResubmitFlag, BitWidth: 32},
		{Name: packet.FieldEgressRid, BitWidth: 16},
		{Name: packet.FieldRecirculateFlag, BitWidth: 32},

		{Name: FieldDstMAC, BitWidth: 48},
		{Name: FieldSrcMAC, BitWidth: 48},
		{Name: FieldEtherType, BitWidth: 16},
	}
}

// Parser reads the fixed 14-byte ethernet-like header into the PHV. A
// buffer shorter than the header is a parse error (spec.md §4.4 "parser
// may fail mid-parse").
type Parser struct{}

func (Parser) Parse(p *packet.Packet) error {
	buf := p.Bytes()
	if len(buf) < headerLen {
		return fmt.Errorf("refprogram: buffer too short to parse ethernet header: %d bytes", len(buf))
	}
	p.PHV.SetField(FieldDstMAC, macToUint64(buf[0:6]))
	p.PHV.SetField(FieldSrcMAC, macToUint64(buf[6:12]))
	p.PHV.SetField(FieldEtherType, uint64(binary.BigEndian.Uint16(buf[12:14])))
	return nil
}

func macToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func uint64ToMAC(v uint64) [6]byte {
	var out [6]byte
	for i := 5; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// ForwardingTable maps a destination MAC to an egress port. A miss means
// "no known destination" and sets egress_spec to drop. It is the stand-in
// for the compiler-loaded match-action table spec.md §1 places out of
// scope.
type ForwardingTable struct {
	mu      sync.RWMutex
	entries map[uint64]int
}

// NewForwardingTable builds an empty table.
func NewForwardingTable() *ForwardingTable {
	return &ForwardingTable{entries: make(map[uint64]int)}
}

// Set installs a static mac -> port mapping.
func (t *ForwardingTable) Set(mac uint64, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[mac] = port
}

// Lookup resolves mac to a port, or reports a miss.
func (t *ForwardingTable) Lookup(mac uint64) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	port, ok := t.entries[mac]
	return port, ok
}

// IngressPipeline does a single-stage L2 match on the destination MAC: a
// broadcast destination floods via MulticastGroup when one is set,
// otherwise the destination is looked up in the table and unicast to the
// resolved port, or dropped on a miss.
type IngressPipeline struct {
	Table *ForwardingTable

	// MulticastGroup is stamped into intrinsic_metadata.mcast_grp for a
	// broadcast destination. 0 disables flooding: a broadcast destination
	// then goes through the table like any other (drop on miss).
	MulticastGroup uint64
}

func (ip IngressPipeline) Apply(p *packet.Packet) error {
	dst, _ := p.PHV.GetField(FieldDstMAC)
	if dst == broadcastMAC && ip.MulticastGroup != 0 {
		p.PHV.SetField(packet.FieldMcastGrp, ip.MulticastGroup)
		return nil
	}
	port, ok := ip.Table.Lookup(dst)
	if !ok {
		p.PHV.SetField(packet.FieldEgressSpec, uint64(packet.DropPort))
		return nil
	}
	p.PHV.SetField(packet.FieldEgressSpec, uint64(port))
	return nil
}

// EgressPipeline is a pass-through: this reference program has nothing
// left to decide once a port is chosen.
type EgressPipeline struct{}

func (EgressPipeline) Apply(p *packet.Packet) error { return nil }

// Deparser writes the PHV's ethernet-like fields back into the packet's
// raw buffer, in place.
type Deparser struct{}

func (Deparser) Deparse(p *packet.Packet) error {
	buf := p.Bytes()
	if len(buf) < headerLen {
		return fmt.Errorf("refprogram: buffer too short to deparse ethernet header: %d bytes", len(buf))
	}
	dst, _ := p.PHV.GetField(FieldDstMAC)
	src, _ := p.PHV.GetField(FieldSrcMAC)
	et, _ := p.PHV.GetField(FieldEtherType)
	dstBytes := uint64ToMAC(dst)
	srcBytes := uint64ToMAC(src)
	copy(buf[0:6], dstBytes[:])
	copy(buf[6:12], srcBytes[:])
	binary.BigEndian.PutUint16(buf[12:14], uint16(et))
	return nil
}

// FieldListRegistry is a static id -> field-names map, the stand-in for a
// compiler-emitted field-list table (spec.md §9 "Reinjection helpers").
type FieldListRegistry struct {
	lists map[uint32][]string
}

// NewFieldListRegistry builds a registry from a plain map literal.
func NewFieldListRegistry(lists map[uint32][]string) *FieldListRegistry {
	return &FieldListRegistry{lists: lists}
}

func (r *FieldListRegistry) GetFieldList(id uint32) ([]string, bool) {
	names, ok := r.lists[id]
	return names, ok
}

// DefaultFieldListRegistry declares one field list (id 1) carrying the
// ethernet headers, the shape every clone/resubmit/recirculate path in this
// reference program uses.
func DefaultFieldListRegistry() *FieldListRegistry {
	return NewFieldListRegistry(map[uint32][]string{
		1: {FieldDstMAC, FieldSrcMAC, FieldEtherType},
	})
}
