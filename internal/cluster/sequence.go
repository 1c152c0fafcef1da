package cluster

import "sync"

// Sequence tracks the highest write sequence ID this node has assigned or
// observed. Safe for concurrent use.
type Sequence struct {
	mu   sync.Mutex
	last int
}

// Last returns the highest ID seen so far.
func (s *Sequence) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Next assigns the following ID. Only the primary calls this.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Observe advances the counter to a replicated ID when it is newer. Older
// IDs leave it unchanged.
func (s *Sequence) Observe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last {
		s.last = id
	}
}
