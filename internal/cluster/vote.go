package cluster

// MaxPort exceeds every valid TCP port, so a composite vote value compares
// sequence IDs first and falls back to the port only on ties.
const MaxPort = 100000

// Vote ranks one candidate: its user port and the last write sequence ID it
// has observed.
type Vote struct {
	Port           int
	LastSequenceID int
}

// Value is the composite ordering key. A higher sequence always outranks a
// higher port; equal sequences tiebreak on port.
func (v Vote) Value() int {
	return v.LastSequenceID*MaxPort + v.Port
}
