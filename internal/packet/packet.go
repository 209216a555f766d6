// Package packet implements the per-packet data model shared by the
// ingress, egress and transmit workers: the owning buffer container (C)
// and the parsed header vector (D).
package packet

import "github.com/google/uuid"

const (
	// NumRegisters is the size of the scratch-register array carried by
	// every packet. Register 0 is reserved for the original packet length,
	// the source of truth across parse/deparse cycles (spec.md §3 invariant
	// 3 and §6 "Register layout").
	NumRegisters = 16

	// RegOriginalLength is the reserved register index.
	RegOriginalLength = 0

	// defaultHeadroom bounds how much header data a program may add to a
	// packet before it is considered a program error (spec.md §4.3).
	defaultHeadroom = 512
)

// BufferState is an opaque token produced by SaveBufferState and consumed by
// RestoreBufferState. It snapshots the packet's raw bytes so the original,
// byte-exact packet can always be recovered after parser consumption
// (spec.md §3 invariant 6).
type BufferState struct {
	data   []byte
	length int
}

// Packet is the uniquely-owned container for a packet in flight: its
// mutable byte buffer, scratch registers, identity, and parsed header
// vector. Per-path state such as egress port, instance type, and egress
// rid lives in the PHV, not on this struct. A Packet is never shared —
// handoff between queues and workers is always a move, never a reference
// held by two owners at once.
type Packet struct {
	ID          uint64
	IngressPort int

	// TraceID correlates a packet with every clone, resubmit and
	// recirculation descended from the same reception, for learn-engine
	// and operator diagnostics. It is not part of the wire format.
	TraceID string

	buffer    []byte
	length    int
	registers [NumRegisters]int64

	PHV *PHV
}

// New constructs a packet received on ingressPort with the given payload.
// The buffer is allocated with defaultHeadroom extra capacity so the
// forwarding program can grow headers without reallocating.
func New(ingressPort int, id uint64, payload []byte, phv *PHV) *Packet {
	buf := make([]byte, len(payload)+defaultHeadroom)
	copy(buf, payload)
	p := &Packet{
		ID:          id,
		IngressPort: ingressPort,
		TraceID:     uuid.NewString(),
		PHV:         phv,
		buffer:      buf,
		length:      len(payload),
	}
	p.registers[RegOriginalLength] = int64(len(payload))
	if phv != nil {
		phv.SetField(FieldIngressPort, uint64(ingressPort))
		phv.SetField(FieldPacketLength, uint64(len(payload)))
	}
	return p
}

// Bytes returns the packet's current payload (length bytes of the buffer).
func (p *Packet) Bytes() []byte {
	return p.buffer[:p.length]
}

// SetBytes replaces the packet's payload, truncating or growing within the
// buffer's capacity. Growth beyond capacity is a program error: it is
// logged by the caller (the deparser-invoking worker) and best-effort
// truncated here so the core never panics on a malformed program.
func (p *Packet) SetBytes(data []byte) (truncated bool) {
	if len(data) > cap(p.buffer) {
		data = data[:cap(p.buffer)]
		truncated = true
	}
	if cap(p.buffer) < len(data) {
		p.buffer = make([]byte, len(data))
	}
	p.buffer = p.buffer[:cap(p.buffer)]
	copy(p.buffer, data)
	p.length = len(data)
	return truncated
}

// Len returns the current payload length.
func (p *Packet) Len() int {
	return p.length
}

// Headroom reports remaining capacity beyond the current payload.
func (p *Packet) Headroom() int {
	return cap(p.buffer) - p.length
}

// Register reads scratch register i. Out-of-range reads return 0.
func (p *Packet) Register(i int) int64 {
	if i < 0 || i >= NumRegisters {
		return 0
	}
	return p.registers[i]
}

// SetRegister writes scratch register i. Out-of-range writes are ignored.
func (p *Packet) SetRegister(i int, v int64) {
	if i < 0 || i >= NumRegisters {
		return
	}
	p.registers[i] = v
}

// OriginalLength returns register 0, the length recorded at reception.
func (p *Packet) OriginalLength() int64 {
	return p.registers[RegOriginalLength]
}

// SaveBufferState snapshots the current buffer contents.
func (p *Packet) SaveBufferState() BufferState {
	data := make([]byte, p.length)
	copy(data, p.buffer[:p.length])
	return BufferState{data: data, length: p.length}
}

// RestoreBufferState undoes parser consumption, restoring the bytes
// captured by a prior SaveBufferState.
func (p *Packet) RestoreBufferState(s BufferState) {
	if cap(p.buffer) < len(s.data) {
		p.buffer = make([]byte, len(s.data)+defaultHeadroom)
	}
	copy(p.buffer, s.data)
	p.length = s.length
}

// CloneNoPHV copies the raw buffer only; the PHV is reset to program
// defaults and must be re-parsed. Used for ingress clones and resubmit,
// whose copies re-enter the parser.
func (p *Packet) CloneNoPHV(newID uint64) *Packet {
	buf := make([]byte, cap(p.buffer))
	copy(buf, p.buffer)
	clone := &Packet{
		ID:          newID,
		IngressPort: p.IngressPort,
		TraceID:     p.TraceID,
		buffer:      buf,
		length:      p.length,
		registers:   p.registers,
	}
	if p.PHV != nil {
		clone.PHV = p.PHV.FreshLike()
	}
	return clone
}

// CloneWithPHV copies both the raw buffer and the PHV intact.
func (p *Packet) CloneWithPHV(newID uint64) *Packet {
	clone := p.CloneNoPHV(newID)
	if p.PHV != nil {
		clone.PHV = p.PHV.Clone()
	}
	return clone
}

// CloneWithPHVResetMetadata copies the buffer and headers, then clears
// metadata fields on the copy. Used by egress clones.
func (p *Packet) CloneWithPHVResetMetadata(newID uint64) *Packet {
	clone := p.CloneWithPHV(newID)
	if clone.PHV != nil {
		clone.PHV.ResetMetadata()
	}
	return clone
}
