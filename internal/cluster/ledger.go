package cluster

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/metrics"
)

// ErrUnsequencedWrite reports a write command delivered to a backup without
// a sequence tag. A backup must never apply one.
var ErrUnsequencedWrite = errors.New("unsequenced write received on backup")

// Tag prefixes a command line with its sequence ID.
func Tag(sequenceID int, line string) string {
	return strconv.Itoa(sequenceID) + "/" + line
}

// Untag splits a tagged command line into its sequence ID and the bare
// command. Lines without a numeric prefix fail with ErrUnsequencedWrite.
func Untag(tagged string) (int, string, error) {
	prefix, line, ok := strings.Cut(tagged, "/")
	if !ok {
		return 0, "", errors.Wrap(ErrUnsequencedWrite, tagged)
	}
	sequenceID, err := strconv.Atoi(prefix)
	if err != nil || sequenceID < 0 {
		return 0, "", errors.Wrap(ErrUnsequencedWrite, tagged)
	}
	return sequenceID, line, nil
}

// Ledger is the FIFO queue of pending write commands. On a backup, Add
// enqueues replicated writes and a single drain worker applies them in
// arrival order. On the primary, TryReserve/Release use the same queue as
// the busy marker that bounces concurrent writers.
type Ledger struct {
	mu       sync.Mutex
	queue    []string
	draining bool

	// broadcastMu serializes broadcasts so peers receive write i in full
	// before write i+1 starts.
	broadcastMu sync.Mutex

	apply func(line string)
	msgr  Messenger
	met   *metrics.Metrics
	log   *zap.Logger
}

func NewLedger(apply func(line string), msgr Messenger, met *metrics.Metrics, log *zap.Logger) *Ledger {
	return &Ledger{apply: apply, msgr: msgr, met: met, log: log}
}

// Size reports how many commands are pending.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Add enqueues one replicated command and ensures exactly one drain worker
// is running. The caller gets control back before the command is applied;
// acknowledgement of receipt is not acknowledgement of apply.
func (l *Ledger) Add(line string) {
	l.mu.Lock()
	l.queue = append(l.queue, line)
	spawn := !l.draining
	if spawn {
		l.draining = true
	}
	l.mu.Unlock()

	if spawn {
		go l.drain()
	}
}

func (l *Ledger) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		line := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.apply(line)
		l.met.ReplicaApplied.Inc()
	}
}

// TryReserve marks the primary busy with one write by occupying the queue.
// It fails when the ledger already holds anything, which bounces the caller;
// the primary refuses concurrent writes even when idle backups exist.
func (l *Ledger) TryReserve(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.draining || len(l.queue) > 0 {
		return false
	}
	l.queue = append(l.queue, line)
	return true
}

// Release drops the reservation taken by TryReserve.
func (l *Ledger) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		l.queue = l.queue[:len(l.queue)-1]
	}
}

// Broadcast sends one tagged command to every peer, in parallel, and waits
// for all sends to finish before returning. A failed or unacknowledged send
// is logged and counted but never blocks the other peers or the caller's
// reply.
func (l *Ledger) Broadcast(tagged string, peers []config.Member) {
	l.broadcastMu.Lock()
	defer l.broadcastMu.Unlock()

	l.met.Broadcasts.Inc()

	var wg sync.WaitGroup
	for _, m := range peers {
		wg.Add(1)
		go func(m config.Member) {
			defer wg.Done()

			reply, err := l.msgr.SendToPort(m.InternalPort, tagged)
			if err != nil {
				l.met.BroadcastFailures.Inc()
				l.log.Warn("broadcast send failed",
					zap.Int("internal_port", m.InternalPort), zap.Error(err))
				return
			}
			if reply != "success" {
				l.met.BroadcastFailures.Inc()
				l.log.Warn("broadcast not acknowledged",
					zap.Int("internal_port", m.InternalPort), zap.String("reply", reply))
			}
		}(m)
	}
	wg.Wait()
}
