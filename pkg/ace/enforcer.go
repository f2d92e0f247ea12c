package ace

import "github.com/barnettlynn/seaccess/pkg/seaerr"

// CallerIdentity is what the Client Façade resolves about the process that
// is opening a channel: its PID, package name, and the certificate hashes
// of its signing chain (longest first, matching Android's PackageManager
// ordering so the most specific hash is tried first by Cache.Lookup).
type CallerIdentity struct {
	Pid         int32
	PackageName string
	CertHashes  [][]byte
}

// Enforcer is the Access Control Enforcer (C9): it resolves channel access
// on open, and re-checks every subsequent transmit and NFC event against
// the resolved decision.
type Enforcer struct {
	cache      *Cache
	failClosed bool
}

// NewEnforcer builds an Enforcer over cache. failClosed governs what
// happens when the cache was never successfully loaded (loader.Reload
// never ran, or every discovery path failed): true denies every AID,
// false allows (useful only for a debug build with ACE disabled).
func NewEnforcer(cache *Cache, failClosed bool) *Enforcer {
	return &Enforcer{cache: cache, failClosed: failClosed}
}

// SetupChannelAccess resolves the ChannelAccess for caller opening aid
// (nil aid means "select the default application"). The result is attached
// to the resulting Channel and reused by CheckCommand/CheckNfcEvent for the
// channel's lifetime — per-APDU cache lookups are not repeated.
func (e *Enforcer) SetupChannelAccess(caller CallerIdentity, aid []byte) ChannelAccess {
	if !e.cache.Initialized() {
		if e.failClosed {
			return withCaller(Denied("access rule cache not initialized"), caller)
		}
		return withCaller(ChannelAccess{Access: Allowed, ApduAccess: Allowed, NfcEventAccess: Allowed, Reason: "ace disabled"}, caller)
	}
	access := e.cache.Lookup(aid, caller.CertHashes)
	return withCaller(access, caller)
}

func withCaller(access ChannelAccess, caller CallerIdentity) ChannelAccess {
	access.CallingPid = caller.Pid
	access.PackageName = caller.PackageName
	return access
}

// CheckCommand applies a resolved ChannelAccess to an outgoing APDU's first
// four bytes (CLA already stripped of logical-channel bits by the caller).
// It returns a SecurityDeniedError when the command must be rejected.
func CheckCommand(access ChannelAccess, header [4]byte) error {
	if access.Access != Allowed {
		return &seaerr.SecurityDeniedError{Reason: access.denyReason("channel access denied")}
	}
	if access.ApduAccess == AccessDenied {
		return &seaerr.SecurityDeniedError{Reason: access.denyReason("apdu access denied")}
	}
	if access.ApduAccess == Allowed && !access.UseApduFilter {
		return nil
	}
	if access.UseApduFilter {
		for _, f := range access.ApduFilter {
			if f.Matches(header) {
				return nil
			}
		}
		return &seaerr.SecurityDeniedError{Reason: access.denyReason("apdu filter: no matching rule")}
	}
	return nil
}

// CheckNfcEvent reports whether access permits delivering NFC field events
// to the caller that owns access.
func CheckNfcEvent(access ChannelAccess) error {
	if access.Access != Allowed || access.NfcEventAccess != Allowed {
		return &seaerr.SecurityDeniedError{Reason: access.denyReason("nfc event access denied")}
	}
	return nil
}

func (a ChannelAccess) denyReason(fallback string) string {
	if a.Reason != "" {
		return a.Reason
	}
	return fallback
}
