// Package app wires the core's components into a runnable switch: queue
// construction, worker goroutines, the atomically-swappable forwarding
// program, and the control-surface operations the core exposes (component
// H, spec.md §4.7).
package app

import (
	"sync"
	"sync/atomic"

	"github.com/NodePath81/pswitch/internal/config"
	"github.com/NodePath81/pswitch/internal/dataplane"
	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/queue"
	"github.com/NodePath81/pswitch/internal/util"
)

// Resettable is implemented by a pre-replication engine that keeps target
// state the switch's reset_target_state() operation must clear (spec.md
// §4.7). Engines that don't need resetting simply don't implement it.
type Resettable interface {
	Reset()
}

// Switch is the top-level construction: it owns the input and output
// blocking queues, the per-port egress multi-queue, the worker
// goroutines, and the atomically-swappable forwarding program (spec.md
// §4.7, §9 "Program swap").
type Switch struct {
	cfg    config.Config
	logger util.Logger
	clock  dataplane.Clock

	input  *queue.Queue
	output *queue.Queue
	egress *queue.PortQueue

	program     atomic.Pointer[program.Program]
	transmitFn  atomic.Pointer[program.TransmitFunc]
	mirrorMap   program.MirrorMap
	preRepl     program.PreReplicationEngine
	learnEngine program.LearnEngine
	tableHook   dataplane.TableUpdateHook

	fieldDefs     []packet.FieldDef
	priorityField string
	ports         []int

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

// Deps bundles the external collaborators a Switch is constructed with
// (spec.md §1's named external interfaces, §6).
type Deps struct {
	Program        *program.Program
	FieldDefs      []packet.FieldDef
	MirrorMap      program.MirrorMap
	PreReplication program.PreReplicationEngine
	LearnEngine    program.LearnEngine
	TableHook      dataplane.TableUpdateHook
	TransmitFn     program.TransmitFunc
}

// NewSwitch constructs a Switch from cfg and its collaborators. It
// registers the required metadata fields, starts the monotonic clock
// origin, and prepares (but does not start) the worker goroutines
// (spec.md §4.7).
func NewSwitch(cfg config.Config, logger util.Logger, deps Deps) *Switch {
	priorityField := ""
	if cfg.Priority.Enabled {
		priorityField = cfg.Priority.PriorityField
	}

	ports := make([]int, len(cfg.Ports))
	for i, p := range cfg.Ports {
		ports[i] = p.ID
	}

	egress := queue.NewPortQueue(cfg.Priority.NBQueues, cfg.NbEgressThreads, logger)
	for _, p := range cfg.Ports {
		egress.SetCapacity(p.ID, p.CapacityPkts)
		if rate, err := config.ParseRatePPS(p.RatePPS); err == nil {
			egress.SetRate(p.ID, rate)
		}
	}

	s := &Switch{
		cfg:           cfg,
		logger:        logger,
		clock:         dataplane.NewSystemClock(),
		input:         queue.New(cfg.Queues.InputCapacity),
		output:        queue.New(cfg.Queues.OutputCapacity),
		egress:        egress,
		mirrorMap:     deps.MirrorMap,
		preRepl:       deps.PreReplication,
		learnEngine:   deps.LearnEngine,
		tableHook:     deps.TableHook,
		fieldDefs:     deps.FieldDefs,
		priorityField: priorityField,
		ports:         ports,
	}
	s.program.Store(deps.Program)
	if deps.TransmitFn != nil {
		s.transmitFn.Store(&deps.TransmitFn)
	}
	return s
}

// Current implements dataplane.ProgramSource: every packet reads the
// program pointer fresh, so a swap takes effect without restarting a
// worker (spec.md §9).
func (s *Switch) Current() *program.Program {
	return s.program.Load()
}

// SwapProgram atomically installs a new forwarding program. The swap is
// observed at the next packet each worker processes. It does not wait for
// in-flight packets to drain: the ingress and egress workers each read the
// program pointer per packet, so a packet already queued for egress when
// the swap happens runs the new program's egress pipeline and deparser.
func (s *Switch) SwapProgram(p *program.Program) {
	s.program.Store(p)
}

// StartAndReturn spawns one ingress goroutine, nb_egress_threads egress
// goroutines and one transmit goroutine, then returns without blocking
// (spec.md §4.7).
func (s *Switch) StartAndReturn() {
	ingress := &dataplane.IngressWorker{
		Input:          s.input,
		Egress:         s.egress,
		Programs:       s,
		MirrorMap:      s.mirrorMap,
		PreReplication: s.preRepl,
		LearnEngine:    s.learnEngine,
		TableHook:      s.tableHook,
		PriorityField:  s.priorityField,
		NextID:         s.nextID.Add,
		Clock:          s.clock,
		Logger:         s.logger,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ingress.Run()
	}()

	for w := 0; w < s.cfg.NbEgressThreads; w++ {
		worker := &dataplane.EgressWorker{
			WorkerID:      w,
			Egress:        s.egress,
			Output:        s.output,
			Input:         s.input,
			Programs:      s,
			MirrorMap:     s.mirrorMap,
			PriorityField: s.priorityField,
			NextID:        s.nextID.Add,
			Clock:         s.clock,
			Logger:        s.logger,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			worker.Run()
		}()
	}

	transmit := &dataplane.TransmitWorker{
		Output: s.output,
		TransmitFn: func(port int, buffer []byte, length int) {
			fn := s.transmitFn.Load()
			if fn == nil || *fn == nil {
				return
			}
			(*fn)(port, buffer, length)
		},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		transmit.Run()
	}()
}

// Stop pushes a shutdown sentinel to every blocking queue the core owns
// and joins every worker goroutine (spec.md §4.7 "Destruction").
func (s *Switch) Stop() {
	s.egress.Stop()
	s.input.PushFront(nil)
	s.output.PushFront(nil)
	s.wg.Wait()
}

// ResetTargetState clears pre-replication state only; queues are drained
// by the shutdown sentinels, not by this call (spec.md §4.7).
func (s *Switch) ResetTargetState() {
	if r, ok := s.preRepl.(Resettable); ok {
		r.Reset()
	}
}

// Receive is the host-invoked reception callback (spec.md §6
// `receive(port, buffer, length) -> 0`): it allocates a fresh packet with
// a monotonic id and pushes it onto the input queue, blocking if the
// queue is full (intentional backpressure, spec.md §5).
func (s *Switch) Receive(port int, buffer []byte) {
	id := s.nextID.Add(1)
	phv := packet.NewPHV(s.fieldDefs)
	s.input.PushFront(packet.New(port, id, buffer, phv))
}

// SetTransmitFn installs the host transmit callback the transmit worker
// invokes (spec.md §6 `set_transmit_fn`).
func (s *Switch) SetTransmitFn(fn program.TransmitFunc) {
	s.transmitFn.Store(&fn)
}

// SetEgressQueueDepth adjusts one port's per-priority-level capacity
// (spec.md §6 `set_egress_queue_depth`).
func (s *Switch) SetEgressQueueDepth(port, n int) {
	s.egress.SetCapacity(port, n)
}

// SetAllEgressQueueDepths applies n to every configured port.
func (s *Switch) SetAllEgressQueueDepths(n int) {
	for _, port := range s.ports {
		s.egress.SetCapacity(port, n)
	}
}

// SetEgressQueueRate adjusts one port's token-bucket refill rate (spec.md
// §6 `set_egress_queue_rate`).
func (s *Switch) SetEgressQueueRate(port int, pps float64) {
	s.egress.SetRate(port, pps)
}

// SetAllEgressQueueRates applies pps to every configured port.
func (s *Switch) SetAllEgressQueueRates(pps float64) {
	for _, port := range s.ports {
		s.egress.SetRate(port, pps)
	}
}

// GetTimeElapsedUs returns microseconds since switch construction (spec.md
// §6 `get_time_elapsed_us`).
func (s *Switch) GetTimeElapsedUs() uint64 {
	return s.clock.ElapsedMicros()
}

// GetTimeSinceEpochUs returns wall-clock microseconds since the Unix
// epoch (spec.md §6 `get_time_since_epoch_us`).
func (s *Switch) GetTimeSinceEpochUs() uint64 {
	return s.clock.EpochMicros()
}

// EgressQueueDepth reports the current aggregate depth for port, used by
// the control surface's live queue-depth feed.
func (s *Switch) EgressQueueDepth(port int) int {
	return s.egress.Size(port)
}

// Ports returns the configured port ids, in config order.
func (s *Switch) Ports() []int {
	out := make([]int, len(s.ports))
	copy(out, s.ports)
	return out
}
