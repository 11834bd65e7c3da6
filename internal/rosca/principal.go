package rosca

import (
	"strconv"
	"strings"
)

const maxPrincipalLen = 256

// Principal is an opaque external identity (account, address, user id).
type Principal string

// Validate rejects empty, padded or oversized principals.
func (p Principal) Validate() error {
	switch {
	case p == "":
		return newError(CodeInvalidPrincipal, "principal is required")
	case strings.TrimSpace(string(p)) != string(p):
		return newError(CodeInvalidPrincipal, "principal must not have surrounding whitespace")
	case len(p) > maxPrincipalLen:
		return newError(CodeInvalidPrincipal, "principal longer than %d bytes", maxPrincipalLen)
	}
	return nil
}

// PoolAccount is the ledger account holding a group's pooled contributions.
func PoolAccount(groupID uint64) Principal {
	return Principal("pool:" + strconv.FormatUint(groupID, 10))
}

// IsPool reports whether p names a group pool account.
func (p Principal) IsPool() bool {
	return strings.HasPrefix(string(p), "pool:")
}
