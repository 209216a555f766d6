package tablehook

import (
	"fmt"
	"testing"

	"github.com/NodePath81/pswitch/internal/packet"
)

type call struct {
	op     string
	table  uint32
	key    string
	action uint32
	params string
}

type fakeRuntime struct {
	calls []call
	err   error
}

func (f *fakeRuntime) AddEntry(tableID uint32, key []byte, actionID uint32, actionParams []byte) error {
	f.calls = append(f.calls, call{op: "add", table: tableID, key: string(key), action: actionID, params: string(actionParams)})
	return f.err
}

func (f *fakeRuntime) ModifyEntry(tableID uint32, key []byte, actionID uint32, actionParams []byte) error {
	f.calls = append(f.calls, call{op: "modify", table: tableID, key: string(key), action: actionID, params: string(actionParams)})
	return f.err
}

func (f *fakeRuntime) DeleteEntry(tableID uint32, key []byte) error {
	f.calls = append(f.calls, call{op: "delete", table: tableID, key: string(key)})
	return f.err
}

func (f *fakeRuntime) GetEntry(tableID uint32, key []byte) (uint32, []byte, bool) {
	return 0, nil, false
}

func slotFields(n int) []packet.FieldDef {
	defs := []packet.FieldDef{{Name: fieldCounter, BitWidth: 16}}
	for i := 0; i < n; i++ {
		defs = append(defs,
			packet.FieldDef{Name: sprintfField(fieldUpdate, i), BitWidth: 8},
			packet.FieldDef{Name: sprintfField(fieldTable, i), BitWidth: 32},
			packet.FieldDef{Name: sprintfField(fieldKey, i), BitWidth: 32},
			packet.FieldDef{Name: sprintfField(fieldAction, i), BitWidth: 32},
			packet.FieldDef{Name: sprintfField(fieldParams, i), BitWidth: 32},
		)
	}
	return defs
}

func sprintfField(tmpl string, i int) string {
	return fmt.Sprintf(tmpl, i)
}

func newTestPacket(n int) *packet.Packet {
	phv := packet.NewPHV(slotFields(n))
	return packet.New(0, 1, []byte{1, 2, 3}, phv)
}

func TestHookAppliesAddEntry(t *testing.T) {
	rt := &fakeRuntime{}
	h := &Hook{Runtime: rt}
	p := newTestPacket(1)
	p.PHV.SetField(fieldCounter, 1)
	p.PHV.SetField(sprintfField(fieldUpdate, 0), uint64(UpdateAdd))
	p.PHV.SetField(sprintfField(fieldTable, 0), 7)
	p.PHV.SetField(sprintfField(fieldKey, 0), 0xAABBCCDD)
	p.PHV.SetField(sprintfField(fieldAction, 0), 42)

	h.Apply(p)

	if len(rt.calls) != 1 || rt.calls[0].op != "add" || rt.calls[0].table != 7 || rt.calls[0].action != 42 {
		t.Fatalf("unexpected calls: %+v", rt.calls)
	}
}

func TestHookSkipsInactiveSlots(t *testing.T) {
	rt := &fakeRuntime{}
	h := &Hook{Runtime: rt}
	p := newTestPacket(2)
	p.PHV.SetField(fieldCounter, 2)
	p.PHV.SetField(sprintfField(fieldUpdate, 0), uint64(UpdateNone))
	p.PHV.SetField(sprintfField(fieldUpdate, 1), uint64(UpdateDelete))
	p.PHV.SetField(sprintfField(fieldTable, 1), 3)
	p.PHV.SetField(sprintfField(fieldKey, 1), 1)

	h.Apply(p)

	if len(rt.calls) != 1 || rt.calls[0].op != "delete" {
		t.Fatalf("expected only the delete slot to fire, got %+v", rt.calls)
	}
}

func TestHookNilRuntimeIsNoop(t *testing.T) {
	h := &Hook{}
	p := newTestPacket(1)
	p.PHV.SetField(fieldCounter, 1)
	p.PHV.SetField(sprintfField(fieldUpdate, 0), uint64(UpdateAdd))
	h.Apply(p) // must not panic
}

func TestHookZeroCounterIsNoop(t *testing.T) {
	rt := &fakeRuntime{}
	h := &Hook{Runtime: rt}
	p := newTestPacket(1)
	h.Apply(p)
	if len(rt.calls) != 0 {
		t.Fatalf("expected no calls with header_count=0, got %+v", rt.calls)
	}
}
