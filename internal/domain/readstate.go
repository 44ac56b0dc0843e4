package domain

// ReadState is the durable per-user read bookkeeping.
//
// Acknowledged only grows until explicitly cleared, so it may hold ids of
// records that no longer exist. LastSeen is a snapshot of the statuses
// observed by the most recent reconciliation pass, patched by
// acknowledgements in between.
type ReadState struct {
	Acknowledged map[string]struct{}
	LastSeen     map[string]string
}

func NewReadState() ReadState {
	return ReadState{
		Acknowledged: make(map[string]struct{}),
		LastSeen:     make(map[string]string),
	}
}

// IsRead reports whether id counts as read given its current status: it must
// have been acknowledged and its status must not have moved since.
func (rs ReadState) IsRead(id, status string) bool {
	if _, ok := rs.Acknowledged[id]; !ok {
		return false
	}
	seen, ok := rs.LastSeen[id]
	return ok && seen == status
}

// AcknowledgedIDs returns the acknowledged ids in no particular order.
func (rs ReadState) AcknowledgedIDs() []string {
	ids := make([]string, 0, len(rs.Acknowledged))
	for id := range rs.Acknowledged {
		ids = append(ids, id)
	}
	return ids
}
