package queue

import (
	"sync"
	"time"

	"github.com/NodePath81/pswitch/internal/packet"
	"github.com/NodePath81/pswitch/internal/util"
)

// DefaultPortCapacity and DefaultRatePPS are applied to a port the first
// time it is referenced, before any explicit SetCapacity/SetRate call.
const (
	DefaultPortCapacity = 256
	DefaultRatePPS      = 0 // unlimited
	tokenRecheckPeriod  = 2 * time.Millisecond
)

// Item is one dequeued element: the port it came from, the PHV-level
// priority it was pushed with (0 when there is a single level), and the
// packet itself.
type Item struct {
	Port     int
	Priority int
	Packet   *packet.Packet
}

type portState struct {
	capacity int
	bucket   *tokenBucket
	levels   [][]*packet.Packet // levels[0] drains before levels[1], etc.
}

// PortQueue is the per-(port, priority) multi-queue with a token-bucket
// rate limiter (spec.md §4.2, component B). When nbQueues is 1 the priority
// dimension collapses to a single FIFO per port, matching the "without the
// priority feature" fallback.
type PortQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	ports           map[int]*portState
	nbQueues        int
	nbEgressThreads int
	logger          util.Logger

	closed bool
	stopCh chan struct{}
}

// NewPortQueue creates a port multi-queue serving nbEgressThreads egress
// workers, with nbQueues strict-priority levels per port (1 disables
// priority).
func NewPortQueue(nbQueues, nbEgressThreads int, logger util.Logger) *PortQueue {
	if nbQueues < 1 {
		nbQueues = 1
	}
	if nbEgressThreads < 1 {
		nbEgressThreads = 1
	}
	pq := &PortQueue{
		ports:           make(map[int]*portState),
		nbQueues:        nbQueues,
		nbEgressThreads: nbEgressThreads,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
	pq.cond = sync.NewCond(&pq.mu)
	go pq.tokenRecheckLoop()
	return pq
}

// tokenRecheckLoop periodically wakes blocked PopBack callers so a
// port whose bucket has refilled, but received no new push, is still
// served promptly.
func (pq *PortQueue) tokenRecheckLoop() {
	ticker := time.NewTicker(tokenRecheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-pq.stopCh:
			return
		case <-ticker.C:
			pq.mu.Lock()
			pq.cond.Broadcast()
			pq.mu.Unlock()
		}
	}
}

// WorkerFor is the stable port -> worker_id mapping used by egress workers
// to claim a disjoint set of ports (spec.md §4.2).
func (pq *PortQueue) WorkerFor(port int) int {
	return port % pq.nbEgressThreads
}

// NBQueues returns the configured number of strict-priority serving
// levels (1 when the priority feature is disabled).
func (pq *PortQueue) NBQueues() int {
	return pq.nbQueues
}

func (pq *PortQueue) ensurePortLocked(port int) *portState {
	ps, ok := pq.ports[port]
	if ok {
		return ps
	}
	ps = &portState{
		capacity: DefaultPortCapacity,
		bucket:   newTokenBucket(DefaultRatePPS),
		levels:   make([][]*packet.Packet, pq.nbQueues),
	}
	pq.ports[port] = ps
	return ps
}

// SetCapacity adjusts the per-priority-level bound for port.
func (pq *PortQueue) SetCapacity(port, n int) {
	if n <= 0 {
		n = 1
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	ps := pq.ensurePortLocked(port)
	ps.capacity = n
	pq.cond.Broadcast()
}

// SetRate adjusts the token-bucket refill rate for port. 0 means unlimited.
func (pq *PortQueue) SetRate(port int, pps float64) {
	pq.mu.Lock()
	ps := pq.ensurePortLocked(port)
	pq.mu.Unlock()
	ps.bucket.setRate(pps)
	pq.mu.Lock()
	pq.cond.Broadcast()
	pq.mu.Unlock()
}

// Size returns the aggregate depth across priority levels for port.
func (pq *PortQueue) Size(port int) int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	ps, ok := pq.ports[port]
	if !ok {
		return 0
	}
	total := 0
	for _, lvl := range ps.levels {
		total += len(lvl)
	}
	return total
}

// priorityLevel inverts a PHV-level priority into a serving level: larger
// priorities map to lower (earlier-served) level indices.
func (pq *PortQueue) priorityLevel(priority int) (int, bool) {
	if pq.nbQueues == 1 {
		return 0, true
	}
	if priority < 0 || priority >= pq.nbQueues {
		return 0, false
	}
	return pq.nbQueues - 1 - priority, true
}

// PushFront enqueues pkt onto port at the given PHV-level priority,
// blocking while that (port, priority) level is at capacity. With more
// than one level, a priority outside [0, NB_QUEUES) is dropped with a
// warning before enqueue (spec.md §4.2, §7 "Runtime resource" error kind);
// with a single level every priority goes to that level.
func (pq *PortQueue) PushFront(port, priority int, pkt *packet.Packet) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	lvl, ok := pq.priorityLevel(priority)
	if !ok {
		if pq.logger != nil {
			pq.logger.Warn("packet priority out of range, dropping", "port", port, "priority", priority, "nb_queues", pq.nbQueues)
		}
		return
	}
	ps := pq.ensurePortLocked(port)
	for len(ps.levels[lvl]) >= ps.capacity && !pq.closed {
		pq.cond.Wait()
	}
	if pq.closed {
		return
	}
	ps.levels[lvl] = append(ps.levels[lvl], pkt)
	pq.cond.Broadcast()
}

// PopBack returns the next packet eligible for workerID: the
// highest-priority, token-available packet among the ports assigned to
// that worker by WorkerFor. It blocks if no assigned port has both a
// queued packet and an available rate-limit token. Returns nil once the
// queue has been stopped and drained for this worker.
func (pq *PortQueue) PopBack(workerID int) *Item {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	for {
		if item := pq.tryPopLocked(workerID); item != nil {
			pq.cond.Broadcast()
			return item
		}
		if pq.closed {
			return nil
		}
		pq.cond.Wait()
	}
}

func (pq *PortQueue) tryPopLocked(workerID int) *Item {
	for lvl := 0; lvl < pq.nbQueues; lvl++ {
		for port, ps := range pq.ports {
			if pq.WorkerFor(port) != workerID {
				continue
			}
			if len(ps.levels[lvl]) == 0 {
				continue
			}
			if !ps.bucket.take() {
				continue
			}
			pkt := ps.levels[lvl][0]
			ps.levels[lvl] = ps.levels[lvl][1:]
			priority := pq.nbQueues - 1 - lvl
			if pq.nbQueues == 1 {
				priority = 0
			}
			return &Item{Port: port, Priority: priority, Packet: pkt}
		}
	}
	return nil
}

// Stop marks the queue closed: blocked pushers are released (and drop
// their packet, since no consumer will ever pop a port queue again) and
// blocked poppers return nil.
func (pq *PortQueue) Stop() {
	pq.mu.Lock()
	pq.closed = true
	pq.mu.Unlock()
	close(pq.stopCh)
	pq.mu.Lock()
	pq.cond.Broadcast()
	pq.mu.Unlock()
}
