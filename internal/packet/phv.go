package packet

import (
	"fmt"
)

// Field metadata name groups recognized by the core. A program need not
// declare headers beyond standard_metadata, but if it declares any field
// from a group, the all-or-none rules in spec.md §3/§4.8 apply.
const (
	GroupStandardMetadata  = "standard_metadata"
	GroupQueueingMetadata  = "queueing_metadata"
	GroupIntrinsicMetadata = "intrinsic_metadata"
)

// Standard-metadata field names, present on every conformant program.
const (
	FieldIngressPort  = "standard_metadata.ingress_port"
	FieldPacketLength = "standard_metadata.packet_length"
	FieldInstanceType = "standard_metadata.instance_type"
	FieldEgressSpec   = "standard_metadata.egress_spec"
	FieldCloneSpec    = "standard_metadata.clone_spec"
	FieldEgressPort   = "standard_metadata.egress_port"
)

// Optional queueing-metadata fields. All four of the first set must be
// declared together, or none are (spec.md §4.8); qid is independently
// optional.
const (
	FieldEnqTimestamp = "queueing_metadata.enq_timestamp"
	FieldEnqQdepth    = "queueing_metadata.enq_qdepth"
	FieldDeqTimedelta = "queueing_metadata.deq_timedelta"
	FieldDeqQdepth    = "queueing_metadata.deq_qdepth"
	FieldQid          = "queueing_metadata.qid"
)

// Optional intrinsic-metadata fields.
const (
	FieldIngressGlobalTimestamp = "intrinsic_metadata.ingress_global_timestamp"
	FieldLFFieldList            = "intrinsic_metadata.lf_field_list"
	FieldMcastGrp               = "intrinsic_metadata.mcast_grp"
	FieldResubmitFlag           = "intrinsic_metadata.resubmit_flag"
	FieldEgressRid              = "intrinsic_metadata.egress_rid"
	FieldRecirculateFlag        = "intrinsic_metadata.recirculate_flag"
)

// DropPort is the sentinel egress_spec/egress_port value meaning "drop".
const DropPort = 511

// FieldDef declares a named field at program-registration time: its fixed
// bit width. Values are stored as an integer plus a byte view sized to the
// width.
type FieldDef struct {
	Name     string
	BitWidth int
}

// Field is a single named entry in the PHV: a fixed bit width, an integer
// value, and a raw byte view of that value (big-endian, minimal width).
type Field struct {
	Name     string
	BitWidth int
	Value    uint64
	raw      []byte
}

func newField(def FieldDef) *Field {
	width := (def.BitWidth + 7) / 8
	if width == 0 {
		width = 1
	}
	return &Field{Name: def.Name, BitWidth: def.BitWidth, raw: make([]byte, width)}
}

func (f *Field) setValue(v uint64) {
	f.Value = v
	for i := len(f.raw) - 1; i >= 0; i-- {
		f.raw[i] = byte(v)
		v >>= 8
	}
}

func (f *Field) bytes() []byte {
	out := make([]byte, len(f.raw))
	copy(out, f.raw)
	return out
}

// PHV is the parsed header vector: a table of named fields, each organized
// as "header.field". reset_metadata zeroes metadata fields only; header
// fields (anything outside the three metadata groups) are untouched.
type PHV struct {
	order  []string
	fields map[string]*Field

	withQueueingMetadata bool
}

// NewPHV builds a PHV from the field set a program declared at load time.
// Construction declares every field with its bit width and runs the §4.8
// queueing-metadata detection pass.
func NewPHV(defs []FieldDef) *PHV {
	phv := &PHV{
		order:  make([]string, 0, len(defs)),
		fields: make(map[string]*Field, len(defs)),
	}
	for _, def := range defs {
		phv.fields[def.Name] = newField(def)
		phv.order = append(phv.order, def.Name)
	}
	phv.withQueueingMetadata = DetectQueueingMetadata(phv, nil)
	return phv
}

// DetectQueueingMetadata implements spec.md §4.8: if any of the four
// required queueing fields is declared, all four must be, or the feature is
// disabled and a warning is logged (warn is optional; nil is fine for
// silent detection, e.g. at construction time before a logger exists).
func DetectQueueingMetadata(phv *PHV, warn func(string)) bool {
	required := []string{FieldEnqTimestamp, FieldEnqQdepth, FieldDeqTimedelta, FieldDeqQdepth}
	present := 0
	for _, name := range required {
		if _, ok := phv.fields[name]; ok {
			present++
		}
	}
	switch present {
	case 0:
		return false
	case len(required):
		return true
	default:
		if warn != nil {
			warn(fmt.Sprintf("partial queueing_metadata declaration (%d/%d fields); disabling", present, len(required)))
		}
		return false
	}
}

// WithQueueingMetadata reports whether the program declared the full
// queueing_metadata set.
func (p *PHV) WithQueueingMetadata() bool {
	return p.withQueueingMetadata
}

// HasField reports whether name is declared on this PHV.
func (p *PHV) HasField(name string) bool {
	_, ok := p.fields[name]
	return ok
}

// GetField reads a field's integer value. ok is false if the field is not
// declared on this program.
func (p *PHV) GetField(name string) (uint64, bool) {
	f, ok := p.fields[name]
	if !ok {
		return 0, false
	}
	return f.Value, true
}

// SetField writes a field's integer value, truncated to its declared bit
// width's byte view. ok is false if the field is not declared.
func (p *PHV) SetField(name string, value uint64) bool {
	f, ok := p.fields[name]
	if !ok {
		return false
	}
	f.setValue(value)
	return true
}

// GetFieldBytes returns the raw byte view of a field.
func (p *PHV) GetFieldBytes(name string) ([]byte, bool) {
	f, ok := p.fields[name]
	if !ok {
		return nil, false
	}
	return f.bytes(), true
}

// ResetMetadata zeroes every field under standard_metadata, queueing_metadata
// or intrinsic_metadata. Header fields (anything else) are left untouched.
func (p *PHV) ResetMetadata() {
	for name, f := range p.fields {
		if isMetadataField(name) {
			f.setValue(0)
		}
	}
}

func isMetadataField(name string) bool {
	for _, prefix := range []string{GroupStandardMetadata, GroupQueueingMetadata, GroupIntrinsicMetadata} {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '.' {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the PHV with every field value preserved.
// Used by clone_with_phv and clone_with_phv_reset_metadata (the latter
// additionally calls ResetMetadata on the result).
func (p *PHV) Clone() *PHV {
	out := &PHV{
		order:                append([]string(nil), p.order...),
		fields:               make(map[string]*Field, len(p.fields)),
		withQueueingMetadata: p.withQueueingMetadata,
	}
	for name, f := range p.fields {
		clone := &Field{Name: f.Name, BitWidth: f.BitWidth, Value: f.Value, raw: f.bytes()}
		out.fields[name] = clone
	}
	return out
}

// FreshLike builds a new, zeroed PHV declaring the same fields as p. Used by
// clone_no_phv, which requires a full re-parse rather than a copy.
func (p *PHV) FreshLike() *PHV {
	defs := make([]FieldDef, 0, len(p.order))
	for _, name := range p.order {
		f := p.fields[name]
		defs = append(defs, FieldDef{Name: f.Name, BitWidth: f.BitWidth})
	}
	return NewPHV(defs)
}

// CopyFieldList copies the named fields from src into dst, in place. Fields
// absent from either side are skipped. This backs the declared field-list
// copy used by clone/resubmit/recirculate (spec.md §9 "Reinjection
// helpers").
func CopyFieldList(dst, src *PHV, fieldNames []string) {
	for _, name := range fieldNames {
		v, ok := src.GetField(name)
		if !ok {
			continue
		}
		dst.SetField(name, v)
	}
}

// InstanceType returns the packet's current instance type, decoded from the
// standard_metadata.instance_type field.
func (p *PHV) InstanceType() InstanceType {
	v, _ := p.GetField(FieldInstanceType)
	return InstanceType(v)
}

// SetInstanceType stamps the packet's instance type.
func (p *PHV) SetInstanceType(t InstanceType) {
	p.SetField(FieldInstanceType, uint64(t))
}
