package rosca

// ContributionRecord is one member's contribution for one cycle. Records are
// written once; a second contribution for the same key is rejected.
type ContributionRecord struct {
	GroupID   uint64    `json:"group_id"`
	Cycle     uint32    `json:"cycle"`
	Member    Principal `json:"member"`
	Amount    int64     `json:"amount"`
	Timestamp int64     `json:"timestamp"`
	Paid      bool      `json:"paid"`
}

// Key returns the storage key of the record.
func (r ContributionRecord) Key() StorageKey {
	return ContributionKey(r.GroupID, r.Cycle, r.Member)
}

// PayoutRecord is the single payout of one cycle.
type PayoutRecord struct {
	GroupID   uint64    `json:"group_id"`
	Cycle     uint32    `json:"cycle"`
	Recipient Principal `json:"recipient"`
	Amount    int64     `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

// Key returns the storage key of the record.
func (r PayoutRecord) Key() StorageKey {
	return PayoutKey(r.GroupID, r.Cycle)
}
