package refprogram

import (
	"testing"

	"github.com/NodePath81/pswitch/internal/packet"
)

func newTestPacket(t *testing.T) *packet.Packet {
	t.Helper()
	phv := packet.NewPHV(FieldDefs())
	payload := make([]byte, headerLen+4)
	payload[11] = 0x01 // src mac low byte, distinguishes from dst
	payload[5] = 0x02  // dst mac low byte
	return packet.New(1, 1, payload, phv)
}

func TestParseThenDeparseRoundTrips(t *testing.T) {
	p := newTestPacket(t)
	if err := (Parser{}).Parse(p); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	dst, _ := p.PHV.GetField(FieldDstMAC)
	if dst != 0x02 {
		t.Fatalf("dst mac = %x, want 0x02", dst)
	}
	p.PHV.SetField(FieldDstMAC, 0xAABBCCDDEEFF)
	if err := (Deparser{}).Deparse(p); err != nil {
		t.Fatalf("Deparse: %v", err)
	}
	buf := p.Bytes()
	if macToUint64(buf[0:6]) != 0xAABBCCDDEEFF {
		t.Fatalf("deparsed dst mac mismatch: %x", buf[0:6])
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	phv := packet.NewPHV(FieldDefs())
	p := packet.New(1, 1, []byte{1, 2, 3}, phv)
	if err := (Parser{}).Parse(p); err == nil {
		t.Fatal("expected parse error on short buffer")
	}
}

func TestIngressPipelineUnicastOnHit(t *testing.T) {
	table := NewForwardingTable()
	table.Set(0x02, 5)
	p := newTestPacket(t)
	(Parser{}).Parse(p)

	ip := IngressPipeline{Table: table}
	if err := ip.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	spec, _ := p.PHV.GetField(packet.FieldEgressSpec)
	if spec != 5 {
		t.Fatalf("egress_spec = %d, want 5", spec)
	}
}

func TestIngressPipelineDropsOnMiss(t *testing.T) {
	table := NewForwardingTable()
	p := newTestPacket(t)
	(Parser{}).Parse(p)

	ip := IngressPipeline{Table: table}
	if err := ip.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	spec, _ := p.PHV.GetField(packet.FieldEgressSpec)
	if int(spec) != packet.DropPort {
		t.Fatalf("egress_spec = %d, want drop (%d)", spec, packet.DropPort)
	}
}

func TestIngressPipelineFloodsBroadcast(t *testing.T) {
	phv := packet.NewPHV(FieldDefs())
	payload := make([]byte, headerLen+4)
	for i := 0; i < 6; i++ {
		payload[i] = 0xFF
	}
	p := packet.New(1, 1, payload, phv)
	(Parser{}).Parse(p)

	ip := IngressPipeline{Table: NewForwardingTable(), MulticastGroup: 9}
	if err := ip.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	grp, _ := p.PHV.GetField(packet.FieldMcastGrp)
	if grp != 9 {
		t.Fatalf("mcast_grp = %d, want 9", grp)
	}
}

func TestFieldListRegistryLookup(t *testing.T) {
	reg := DefaultFieldListRegistry()
	names, ok := reg.GetFieldList(1)
	if !ok || len(names) != 3 {
		t.Fatalf("unexpected field list: %v ok=%v", names, ok)
	}
	if _, ok := reg.GetFieldList(99); ok {
		t.Fatal("expected unregistered id to miss")
	}
}
