package rosca

// AdvancePolicy decides whether a cycle may close. contributed reports whether
// every member contributed to the cycle being closed.
type AdvancePolicy func(g Group, contributed bool) error

// AllowPartialContributions closes cycles regardless of missing contributions.
func AllowPartialContributions(Group, bool) error { return nil }

// RequireFullContributions refuses to close a cycle until every member paid.
func RequireFullContributions(g Group, contributed bool) error {
	if contributed {
		return nil
	}
	return newError(CodeContributionsIncomplete, "cycle %d of group %d has %d of %d contributions",
		g.CurrentCycle, g.ID, len(g.CycleContributors), len(g.Members))
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (AdvancePolicy, bool) {
	switch name {
	case "", "partial":
		return AllowPartialContributions, true
	case "full":
		return RequireFullContributions, true
	default:
		return nil, false
	}
}
