// Package rosca implements the rotation engine of a rotating savings and credit
// association: groups of members contribute a fixed amount each cycle and one
// member, picked by join order, receives the whole pool.
//
// The package owns the Group aggregate, its lifecycle status, the per-cycle
// contribution and payout records, and the Engine that applies operations
// against an injected key-value Store as one atomic step per group.
package rosca
