package rosca

import (
	"math"
	"slices"
)

// MinMembers is the smallest group that still rotates.
const MinMembers = 2

// Group is the aggregate root of one savings circle. Members are kept in join
// order, which is also the payout rotation order.
type Group struct {
	ID                   uint64      `json:"id"`
	Creator              Principal   `json:"creator"`
	ContributionAmount   int64       `json:"contribution_amount"`
	CycleDurationSeconds uint64      `json:"cycle_duration_seconds"`
	MaxMembers           uint32      `json:"max_members"`
	CreatedAt            int64       `json:"created_at"`
	CurrentCycle         uint32      `json:"current_cycle"`
	Status               Status      `json:"status"`
	Members              []Principal `json:"members"`

	// Tallies of the cycle in progress, reset when the cycle advances.
	CycleContributors []Principal `json:"cycle_contributors"`
	CyclePool         int64       `json:"cycle_pool"`
}

// NewGroup validates the configuration and returns a Forming group whose only
// member is the creator.
func NewGroup(id uint64, creator Principal, contributionAmount int64, cycleDurationSeconds uint64, maxMembers uint32, createdAt int64) (*Group, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	switch {
	case maxMembers < MinMembers:
		return nil, newError(CodeInvalidConfiguration, "max_members must be at least %d", MinMembers)
	case contributionAmount <= 0:
		return nil, newError(CodeInvalidConfiguration, "contribution_amount must be > 0")
	case cycleDurationSeconds == 0:
		return nil, newError(CodeInvalidConfiguration, "cycle_duration_seconds must be > 0")
	case contributionAmount > math.MaxInt64/int64(maxMembers):
		return nil, newError(CodeInvalidConfiguration, "pool of %d members overflows", maxMembers)
	}
	return &Group{
		ID:                   id,
		Creator:              creator,
		ContributionAmount:   contributionAmount,
		CycleDurationSeconds: cycleDurationSeconds,
		MaxMembers:           maxMembers,
		CreatedAt:            createdAt,
		CurrentCycle:         0,
		Status:               StatusForming,
		Members:              []Principal{creator},
	}, nil
}

// IsMember reports whether p has joined the group.
func (g *Group) IsMember(p Principal) bool {
	return slices.Contains(g.Members, p)
}

// IsComplete reports whether every member has been paid out.
func (g *Group) IsComplete() bool {
	return g.CurrentCycle == g.MaxMembers
}

// CurrentCycleNumber is the zero-based cycle in progress.
func (g *Group) CurrentCycleNumber() uint32 {
	return g.CurrentCycle
}

// RecipientFor returns the member paid out in the given cycle.
func (g *Group) RecipientFor(cycle uint32) (Principal, bool) {
	if len(g.Members) == 0 {
		return "", false
	}
	return g.Members[int(cycle)%len(g.Members)], true
}

// PayoutAmount is the size of one cycle's pool.
func (g *Group) PayoutAmount() int64 {
	return g.ContributionAmount * int64(len(g.Members))
}

// HasContributed reports whether member already contributed to the current cycle.
func (g *Group) HasContributed(member Principal) bool {
	return slices.Contains(g.CycleContributors, member)
}

// ContributionsComplete reports whether every member contributed to the
// current cycle.
func (g *Group) ContributionsComplete() bool {
	return len(g.Members) > 0 && len(g.CycleContributors) == len(g.Members)
}

// NextCycleDue is the advisory end of the current cycle, in seconds since the
// epoch. Nothing enforces it.
func (g *Group) NextCycleDue() int64 {
	return g.CreatedAt + (int64(g.CurrentCycle)+1)*int64(g.CycleDurationSeconds)
}

// Join appends member to the rotation. The join that fills the group moves it
// to Active and reports GroupActivated instead of MemberJoined.
func (g *Group) Join(member Principal) (Event, error) {
	if err := member.Validate(); err != nil {
		return Event{}, err
	}
	switch {
	case g.IsMember(member):
		return Event{}, newError(CodeAlreadyMember, "%s already joined group %d", member, g.ID)
	case uint32(len(g.Members)) >= g.MaxMembers:
		return Event{}, newError(CodeGroupFull, "group %d has %d members", g.ID, g.MaxMembers)
	case g.Status != StatusForming:
		return Event{}, newError(CodeInvalidStatus, "group %d is %s, not accepting members", g.ID, g.Status)
	}

	status := g.Status
	kind := EventMemberJoined
	if uint32(len(g.Members))+1 == g.MaxMembers {
		if err := status.Transition(StatusActive); err != nil {
			return Event{}, err
		}
		kind = EventGroupActivated
	}

	g.Members = append(g.Members, member)
	g.Status = status
	return Event{
		Kind:    kind,
		GroupID: g.ID,
		Cycle:   g.CurrentCycle,
		Member:  member,
	}, nil
}

// RecordContribution books member's contribution for the current cycle.
func (g *Group) RecordContribution(member Principal, amount int64, timestamp int64) (ContributionRecord, Event, error) {
	if err := member.Validate(); err != nil {
		return ContributionRecord{}, Event{}, err
	}
	switch {
	case g.Status != StatusActive:
		return ContributionRecord{}, Event{}, newError(CodeInvalidStatus, "group %d is %s", g.ID, g.Status)
	case !g.IsMember(member):
		return ContributionRecord{}, Event{}, newError(CodeNotMember, "%s is not a member of group %d", member, g.ID)
	case amount != g.ContributionAmount:
		return ContributionRecord{}, Event{}, newError(CodeWrongAmount, "expected %d, got %d", g.ContributionAmount, amount)
	case g.HasContributed(member):
		return ContributionRecord{}, Event{}, newError(CodeDuplicateContribution, "%s already contributed to cycle %d of group %d", member, g.CurrentCycle, g.ID)
	}

	rec := ContributionRecord{
		GroupID:   g.ID,
		Cycle:     g.CurrentCycle,
		Member:    member,
		Amount:    amount,
		Timestamp: timestamp,
		Paid:      true,
	}
	g.CycleContributors = append(g.CycleContributors, member)
	g.CyclePool += amount
	return rec, Event{
		Kind:      EventContributionRecorded,
		GroupID:   g.ID,
		Cycle:     rec.Cycle,
		Member:    member,
		Amount:    amount,
		Timestamp: timestamp,
	}, nil
}

// AdvanceCycle closes the current cycle, producing its payout. Closing the
// last cycle completes the group. Whether everyone contributed is not checked
// here; see AdvancePolicy.
func (g *Group) AdvanceCycle(timestamp int64) (PayoutRecord, Event, error) {
	if g.IsComplete() {
		return PayoutRecord{}, Event{}, newError(CodeAlreadyComplete, "group %d finished all %d cycles", g.ID, g.MaxMembers)
	}
	if g.Status != StatusActive {
		return PayoutRecord{}, Event{}, newError(CodeInvalidStatus, "group %d is %s", g.ID, g.Status)
	}
	recipient, ok := g.RecipientFor(g.CurrentCycle)
	if !ok {
		return PayoutRecord{}, Event{}, newError(CodeInvalidStatus, "group %d has no members", g.ID)
	}

	payout := PayoutRecord{
		GroupID:   g.ID,
		Cycle:     g.CurrentCycle,
		Recipient: recipient,
		Amount:    g.PayoutAmount(),
		Timestamp: timestamp,
	}

	status := g.Status
	kind := EventCycleAdvanced
	if g.CurrentCycle+1 == g.MaxMembers {
		if err := status.Transition(StatusCompleted); err != nil {
			return PayoutRecord{}, Event{}, err
		}
		kind = EventGroupCompleted
	}

	g.CurrentCycle++
	g.Status = status
	g.CycleContributors = nil
	g.CyclePool = 0
	return payout, Event{
		Kind:      kind,
		GroupID:   g.ID,
		Cycle:     payout.Cycle,
		Member:    recipient,
		Amount:    payout.Amount,
		Timestamp: timestamp,
	}, nil
}

// Cancel aborts the group. Only the creator may cancel, and only before the
// group completes.
func (g *Group) Cancel(by Principal, timestamp int64) (Event, error) {
	if err := by.Validate(); err != nil {
		return Event{}, err
	}
	if by != g.Creator {
		return Event{}, newError(CodeUnauthorized, "only the creator may cancel group %d", g.ID)
	}
	if err := g.Status.Transition(StatusCancelled); err != nil {
		return Event{}, err
	}
	return Event{
		Kind:      EventGroupCancelled,
		GroupID:   g.ID,
		Cycle:     g.CurrentCycle,
		Member:    by,
		Amount:    g.CyclePool,
		Timestamp: timestamp,
	}, nil
}

// Clone returns a deep copy, so callers can mutate without touching the
// original on failure.
func (g *Group) Clone() *Group {
	out := *g
	out.Members = slices.Clone(g.Members)
	out.CycleContributors = slices.Clone(g.CycleContributors)
	return &out
}
