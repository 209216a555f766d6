package packet

import "testing"

func standardFields() []FieldDef {
	return []FieldDef{
		{Name: FieldIngressPort, BitWidth: 16},
		{Name: FieldPacketLength, BitWidth: 32},
		{Name: FieldInstanceType, BitWidth: 8},
		{Name: FieldEgressSpec, BitWidth: 16},
		{Name: FieldCloneSpec, BitWidth: 32},
		{Name: FieldEgressPort, BitWidth: 16},
	}
}

func TestResetMetadataZeroesMetadataOnly(t *testing.T) {
	defs := append(standardFields(), FieldDef{Name: "ethernet.dst_mac", BitWidth: 48})
	phv := NewPHV(defs)
	phv.SetField(FieldEgressSpec, 5)
	phv.SetField("ethernet.dst_mac", 0xAABBCCDDEEFF)

	phv.ResetMetadata()

	if v, _ := phv.GetField(FieldEgressSpec); v != 0 {
		t.Fatalf("egress_spec = %d, want 0 after reset", v)
	}
	if v, _ := phv.GetField("ethernet.dst_mac"); v != 0xAABBCCDDEEFF {
		t.Fatalf("header field mutated by ResetMetadata: got %x", v)
	}
}

func TestDetectQueueingMetadataAllOrNone(t *testing.T) {
	partial := NewPHV(append(standardFields(),
		FieldDef{Name: FieldEnqTimestamp, BitWidth: 32},
		FieldDef{Name: FieldEnqQdepth, BitWidth: 16},
		FieldDef{Name: FieldDeqTimedelta, BitWidth: 32},
	))
	if partial.WithQueueingMetadata() {
		t.Fatalf("three of four queueing fields should not enable the feature")
	}
	if v, ok := partial.GetField(FieldDeqQdepth); ok || v != 0 {
		t.Fatalf("undeclared deq_qdepth must not be readable")
	}

	full := NewPHV(append(standardFields(),
		FieldDef{Name: FieldEnqTimestamp, BitWidth: 32},
		FieldDef{Name: FieldEnqQdepth, BitWidth: 16},
		FieldDef{Name: FieldDeqTimedelta, BitWidth: 32},
		FieldDef{Name: FieldDeqQdepth, BitWidth: 16},
	))
	if !full.WithQueueingMetadata() {
		t.Fatalf("all four queueing fields should enable the feature")
	}
}

func TestCopyFieldList(t *testing.T) {
	src := NewPHV(append(standardFields(), FieldDef{Name: "learn.session_id", BitWidth: 32}))
	dst := src.FreshLike()
	src.SetField("learn.session_id", 42)

	CopyFieldList(dst, src, []string{"learn.session_id"})

	if v, _ := dst.GetField("learn.session_id"); v != 42 {
		t.Fatalf("field list not copied: got %d, want 42", v)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	src := NewPHV(standardFields())
	src.SetField(FieldEgressSpec, 9)
	clone := src.Clone()
	clone.SetField(FieldEgressSpec, 1)

	if v, _ := src.GetField(FieldEgressSpec); v != 9 {
		t.Fatalf("mutating clone affected source: got %d", v)
	}
}
