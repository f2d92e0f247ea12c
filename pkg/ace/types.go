// Package ace implements the Access Control Enforcer: the Access Rule
// Cache (C7), the ARF/PKCS#15 Loader (C8), and the enforcement checks
// applied on channel open and on every APDU transmit (C9).
package ace

// Access is the three-valued access decision used for channel access,
// APDU access, and NFC-event access.
type Access int

const (
	Undefined Access = iota
	Allowed
	AccessDenied
)

// ApduFilter is one (header, mask) pair: a command's first 4 bytes must
// equal header after being ANDed with mask for the filter to match.
type ApduFilter struct {
	Header [4]byte
	Mask   [4]byte
}

// Matches reports whether the first 4 bytes of cmd satisfy this filter.
// The caller must have already zeroed the channel bits of CLA.
func (f ApduFilter) Matches(cmd [4]byte) bool {
	for i := 0; i < 4; i++ {
		if cmd[i]&f.Mask[i] != f.Header[i]&f.Mask[i] {
			return false
		}
	}
	return true
}

// ChannelAccess is the immutable result of a channel-open access-control
// decision, stored on the resulting Channel. The zero value denies every
// access, matching the "default constructed value denies everything" rule.
type ChannelAccess struct {
	Access         Access
	ApduAccess     Access
	NfcEventAccess Access
	UseApduFilter  bool
	ApduFilter     []ApduFilter
	CallingPid     int32
	PackageName    string
	Reason         string
}

// Denied returns the default-deny ChannelAccess, used for cache misses and
// for fail-closed ACE states.
func Denied(reason string) ChannelAccess {
	return ChannelAccess{
		Access:         AccessDenied,
		ApduAccess:     AccessDenied,
		NfcEventAccess: AccessDenied,
		Reason:         reason,
	}
}

// AidRefKind distinguishes the four ways an ACRule's aidRef can be encoded.
type AidRefKind int

const (
	AidRefSpecific AidRefKind = iota // tag 0x4F: a specific AID
	AidRefDefaultSentinel            // tag 0xC0: default-applications sentinel
	AidRefForDefault                 // tag 0x81: rules for the default application
	AidRefForAll                     // tag 0x82: rules for all applications
)

// AidRef is the decoded choice-typed aidRef field of an ACRule.
type AidRef struct {
	Kind AidRefKind
	AID  []byte // populated only when Kind == AidRefSpecific
}

// HashRef is a certificate hash reference; nil Hash means "any hash"
// (wildcard), matching the "missing certHash => hash-any" rule.
type HashRef struct {
	Hash []byte
}

func (h HashRef) isWildcard() bool {
	return len(h.Hash) == 0
}
