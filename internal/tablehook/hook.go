// Package tablehook implements the optional dynamic table-update side
// feature (spec.md §4.6, "lfu logic"): after the ingress pipeline applies,
// it reads a header stack and a counter field from the PHV and replays any
// pending table mutations against a program.MatchActionRuntime. It is a
// target extension, not part of the standard forwarding model — a program
// that never declares these fields never triggers it.
package tablehook

import (
	"fmt"

	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/util"
)

// UpdateType is the per-header mutation kind decoded from the header
// stack. UpdateNone means the slot is inactive and is skipped.
type UpdateType uint64

const (
	UpdateNone UpdateType = iota
	UpdateAdd
	UpdateDelete
	UpdateModify
)

// Field name template for one header-stack slot at index i. A program
// declaring n active slots must declare all five fields for every i in
// [0, header_count).
const (
	fieldCounter = "lfu_header_stack.header_count"
	fieldUpdate  = "lfu_header_stack.%d.update_type"
	fieldTable   = "lfu_header_stack.%d.table_id"
	fieldKey     = "lfu_header_stack.%d.key"
	fieldAction  = "lfu_header_stack.%d.action_id"
	fieldParams  = "lfu_header_stack.%d.action_params"

	// maxSlots bounds a malformed header_count from driving an unbounded
	// loop; spec.md leaves the stack depth to the program, so this is a
	// defensive ceiling rather than a declared limit.
	maxSlots = 256
)

// Hook applies pending table-update entries found in a packet's header
// stack against Runtime. A nil Runtime disables the feature.
type Hook struct {
	Runtime program.MatchActionRuntime
	Logger  util.Logger
}

// Apply matches dataplane.TableUpdateHook's signature: invoked once per
// packet, after the ingress pipeline runs (spec.md §4.4 step 4 optional
// hook). Errors are logged and non-fatal.
func (h *Hook) Apply(p *packet.Packet) {
	if h == nil || h.Runtime == nil || p.PHV == nil {
		return
	}
	count, ok := p.PHV.GetField(fieldCounter)
	if !ok || count == 0 {
		return
	}
	if count > maxSlots {
		h.warn("header_count exceeds maximum slots, truncating", "header_count", count, "max", maxSlots)
		count = maxSlots
	}

	for i := uint64(0); i < count; i++ {
		if err := h.applySlot(p, int(i)); err != nil {
			h.warn("table-update slot failed", "slot", i, "error", err)
		}
	}
}

func (h *Hook) applySlot(p *packet.Packet, i int) error {
	updateRaw, ok := p.PHV.GetField(fmt.Sprintf(fieldUpdate, i))
	if !ok {
		return nil
	}
	update := UpdateType(updateRaw)
	if update == UpdateNone {
		return nil
	}

	tableID, ok := p.PHV.GetField(fmt.Sprintf(fieldTable, i))
	if !ok {
		return fmt.Errorf("slot %d: table_id not declared", i)
	}
	key, ok := p.PHV.GetFieldBytes(fmt.Sprintf(fieldKey, i))
	if !ok {
		return fmt.Errorf("slot %d: key not declared", i)
	}

	switch update {
	case UpdateDelete:
		return h.Runtime.DeleteEntry(uint32(tableID), key)
	case UpdateAdd, UpdateModify:
		actionID, ok := p.PHV.GetField(fmt.Sprintf(fieldAction, i))
		if !ok {
			return fmt.Errorf("slot %d: action_id not declared", i)
		}
		params, _ := p.PHV.GetFieldBytes(fmt.Sprintf(fieldParams, i))
		if update == UpdateAdd {
			return h.Runtime.AddEntry(uint32(tableID), key, uint32(actionID), params)
		}
		return h.Runtime.ModifyEntry(uint32(tableID), key, uint32(actionID), params)
	default:
		return fmt.Errorf("slot %d: unknown update_type %d", i, update)
	}
}

func (h *Hook) warn(msg string, args ...any) {
	if h.Logger != nil {
		h.Logger.Warn(msg, args...)
	}
}
