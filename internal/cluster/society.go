// Package cluster holds the replication layer: peer membership and leader
// election, the write sequence counter, the FIFO write ledger and the request
// router tying them to the command executor.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/metrics"
)

// Messenger is the peer-to-peer sending surface the cluster layer needs.
// *wire.Transport implements it; tests substitute an in-process fake.
type Messenger interface {
	SendToPort(port int, payload string) (string, error)
	Ping(port int) bool
}

// PeerStatus is the heartbeat loop's verdict on one peer.
type PeerStatus int

const (
	StatusAlive PeerStatus = iota
	StatusDead
)

// DefaultVoteWindow is how long an election collects votes after the first
// one arrives before choosing a leader.
const DefaultVoteWindow = 1500 * time.Millisecond

// Society tracks the cluster: which peers are alive, who the primary is, and
// the state of an in-flight election. Candidates rank by (sequence ID, user
// port); there are no terms and no quorum, so a partitioned minority elects
// just as happily as a majority.
type Society struct {
	mu              sync.Mutex
	self            config.Member
	peers           []config.Member
	statuses        map[int]PeerStatus
	primaryUserPort int

	candidate  bool
	votes      []Vote
	chooserSet bool
	voteWindow time.Duration

	seq  *Sequence
	msgr Messenger
	met  *metrics.Metrics
	log  *zap.Logger
}

// NewSociety builds the membership view from the topology. The first
// topology member is the initial primary; a node is its own primary exactly
// when its user port matches.
func NewSociety(self config.Member, members []config.Member, seq *Sequence,
	msgr Messenger, met *metrics.Metrics, log *zap.Logger) *Society {

	s := &Society{
		self:       self,
		statuses:   make(map[int]PeerStatus),
		voteWindow: DefaultVoteWindow,
		seq:        seq,
		msgr:       msgr,
		met:        met,
		log:        log,
	}
	for _, m := range members {
		if m.InternalPort == self.InternalPort {
			continue
		}
		s.peers = append(s.peers, m)
		s.statuses[m.InternalPort] = StatusAlive
	}
	if len(members) > 0 {
		s.primaryUserPort = members[0].UserPort
	}
	return s
}

// SetVoteWindow overrides the vote collection delay.
func (s *Society) SetVoteWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voteWindow = d
}

// IsPrimary reports whether this node currently is the primary.
func (s *Society) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryUserPort == s.self.UserPort
}

// PrimaryUserPort returns the current primary's user-facing port.
func (s *Society) PrimaryUserPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryUserPort
}

// AlivePeers snapshots the peers last seen alive.
func (s *Society) AlivePeers() []config.Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive := make([]config.Member, 0, len(s.peers))
	for _, m := range s.peers {
		if s.statuses[m.InternalPort] == StatusAlive {
			alive = append(alive, m)
		}
	}
	return alive
}

// Heartbeats pings every peer's internal port once per period and records
// the result, until the context is cancelled. It is the sole failure
// detector; a dead primary is only replaced once someone calls
// StartElection, not automatically.
func (s *Society) Heartbeats(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Society) sweep() {
	s.mu.Lock()
	peers := append([]config.Member(nil), s.peers...)
	s.mu.Unlock()

	alive := 0
	for _, m := range peers {
		status := StatusDead
		if s.msgr.Ping(m.InternalPort) {
			status = StatusAlive
			alive++
		}

		s.mu.Lock()
		if s.statuses[m.InternalPort] != status {
			s.log.Info("peer status changed",
				zap.Int("internal_port", m.InternalPort),
				zap.Bool("alive", status == StatusAlive))
		}
		s.statuses[m.InternalPort] = status
		s.mu.Unlock()
	}
	s.met.AlivePeers.Set(float64(alive))
}

// StartElection enters candidacy and asks every live peer for its vote. The
// leader is chosen a fixed delay after the first vote arrives; a candidate
// hearing no votes at all keeps the previous primary.
func (s *Society) StartElection() {
	s.mu.Lock()
	s.votes = nil
	s.candidate = true
	s.mu.Unlock()

	s.met.Elections.Inc()
	s.log.Info("election started", zap.Int("internal_port", s.self.InternalPort))

	inquiry := fmt.Sprintf("%d/ElectionInquiry", s.self.InternalPort)
	for _, m := range s.AlivePeers() {
		go func(m config.Member) {
			if _, err := s.msgr.SendToPort(m.InternalPort, inquiry); err != nil {
				s.log.Warn("election inquiry failed",
					zap.Int("internal_port", m.InternalPort), zap.Error(err))
			}
		}(m)
	}
}

// Vote answers a candidate's inquiry by sending it this node's
// (sequence ID, user port) pair.
func (s *Society) Vote(candidateInternalPort int) {
	response := fmt.Sprintf("%d/ElectionResponse/%d/%d",
		s.self.InternalPort, s.seq.Last(), s.self.UserPort)

	if _, err := s.msgr.SendToPort(candidateInternalPort, response); err != nil {
		s.log.Warn("election response failed",
			zap.Int("candidate", candidateInternalPort), zap.Error(err))
	}
}

// RegisterVote buffers an incoming vote while this node is a candidate. The
// first vote arms a single timer that fires chooseLeader after the vote
// window; later votes only extend the buffer, never the timer.
func (s *Society) RegisterVote(v Vote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.candidate {
		return
	}
	s.votes = append(s.votes, v)

	if !s.chooserSet {
		s.chooserSet = true
		time.AfterFunc(s.voteWindow, s.chooseLeader)
	}
}

func (s *Society) chooseLeader() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.candidate {
		return
	}
	s.candidate = false
	s.chooserSet = false

	best := Vote{Port: s.self.UserPort, LastSequenceID: s.seq.Last()}
	for _, v := range s.votes {
		if v.Value() > best.Value() {
			best = v
		}
	}
	s.votes = nil
	s.primaryUserPort = best.Port

	s.log.Info("leader chosen",
		zap.Int("primary_user_port", best.Port),
		zap.Int("sequence_id", best.LastSequenceID))
}
