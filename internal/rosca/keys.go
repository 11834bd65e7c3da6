package rosca

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// KeyKind discriminates the entity a StorageKey addresses.
type KeyKind uint8

const (
	KindGroup KeyKind = iota + 1
	KindContribution
	KindPayout
	KindGroupSequence
)

func (k KeyKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindContribution:
		return "contribution"
	case KindPayout:
		return "payout"
	case KindGroupSequence:
		return "group_sequence"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// StorageKey addresses one persisted record. Which of Cycle and Member are
// meaningful depends on Kind; the constructors below are the only supported
// way to build one.
type StorageKey struct {
	Kind    KeyKind
	GroupID uint64
	Cycle   uint32
	Member  Principal
}

// GroupDataKey addresses the Group record.
func GroupDataKey(groupID uint64) StorageKey {
	return StorageKey{Kind: KindGroup, GroupID: groupID}
}

// ContributionKey addresses one member's contribution for one cycle.
func ContributionKey(groupID uint64, cycle uint32, member Principal) StorageKey {
	return StorageKey{Kind: KindContribution, GroupID: groupID, Cycle: cycle, Member: member}
}

// PayoutKey addresses the payout of one cycle.
func PayoutKey(groupID uint64, cycle uint32) StorageKey {
	return StorageKey{Kind: KindPayout, GroupID: groupID, Cycle: cycle}
}

// GroupSequenceKey addresses the counter used to assign group ids.
func GroupSequenceKey() StorageKey {
	return StorageKey{Kind: KindGroupSequence}
}

// Bytes encodes the key as kind | group id | cycle | member, with the group id
// and cycle big-endian and the member length-prefixed. Only the fields the
// kind uses are written, so the kind byte alone fixes the layout.
func (k StorageKey) Bytes() []byte {
	buf := make([]byte, 0, 1+8+4+binary.MaxVarintLen64+len(k.Member))
	buf = append(buf, byte(k.Kind))
	switch k.Kind {
	case KindGroup:
		buf = binary.BigEndian.AppendUint64(buf, k.GroupID)
	case KindPayout:
		buf = binary.BigEndian.AppendUint64(buf, k.GroupID)
		buf = binary.BigEndian.AppendUint32(buf, k.Cycle)
	case KindContribution:
		buf = binary.BigEndian.AppendUint64(buf, k.GroupID)
		buf = binary.BigEndian.AppendUint32(buf, k.Cycle)
		buf = binary.AppendUvarint(buf, uint64(len(k.Member)))
		buf = append(buf, k.Member...)
	}
	return buf
}

// String renders the key for logs and transfer idempotency keys.
func (k StorageKey) String() string {
	switch k.Kind {
	case KindGroup:
		return fmt.Sprintf("group:%d", k.GroupID)
	case KindPayout:
		return fmt.Sprintf("payout:%d:%d", k.GroupID, k.Cycle)
	case KindContribution:
		return fmt.Sprintf("contribution:%d:%d:%s", k.GroupID, k.Cycle, k.Member)
	case KindGroupSequence:
		return "group_sequence"
	default:
		return k.Kind.String()
	}
}

var errMalformedKey = errors.New("malformed storage key")

// ParseStorageKey decodes the output of StorageKey.Bytes.
func ParseStorageKey(b []byte) (StorageKey, error) {
	if len(b) == 0 {
		return StorageKey{}, errMalformedKey
	}
	k := StorageKey{Kind: KeyKind(b[0])}
	rest := b[1:]
	switch k.Kind {
	case KindGroupSequence:
		if len(rest) != 0 {
			return StorageKey{}, errMalformedKey
		}
		return k, nil
	case KindGroup, KindPayout, KindContribution:
	default:
		return StorageKey{}, fmt.Errorf("%w: unknown kind %d", errMalformedKey, b[0])
	}

	if len(rest) < 8 {
		return StorageKey{}, errMalformedKey
	}
	k.GroupID = binary.BigEndian.Uint64(rest)
	rest = rest[8:]
	if k.Kind == KindGroup {
		if len(rest) != 0 {
			return StorageKey{}, errMalformedKey
		}
		return k, nil
	}

	if len(rest) < 4 {
		return StorageKey{}, errMalformedKey
	}
	k.Cycle = binary.BigEndian.Uint32(rest)
	rest = rest[4:]
	if k.Kind == KindPayout {
		if len(rest) != 0 {
			return StorageKey{}, errMalformedKey
		}
		return k, nil
	}

	n, width := binary.Uvarint(rest)
	if width <= 0 || uint64(len(rest)-width) != n {
		return StorageKey{}, errMalformedKey
	}
	k.Member = Principal(rest[width:])
	return k, nil
}
