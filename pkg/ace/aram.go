package ace

import (
	"github.com/barnettlynn/seaccess/pkg/seaerr"
	"github.com/barnettlynn/seaccess/pkg/tlv"
)

// EncodeStoreData builds the REF-AR-DO payload (tag 0xE2) that an ARA-M
// applet's STORE DATA command expects for one (AidRef, HashRef, access)
// rule: E2 { E1 { 4F|C0|81|82 (aidRef), C1 (DeviceAppID-REF-DO) }, E3 { D0
// (APDU-AR-DO), DB (PERM-AR-DO) } }. Used only by "secli rules dump
// --encode" to let an operator inspect what a rule would look like on the
// wire; the Loader only ever decodes, never writes, ACE files.
func EncodeStoreData(ref AidRef, hash HashRef, access ChannelAccess) ([]byte, error) {
	aidRefTLV, err := encodeAidRef(ref)
	if err != nil {
		return nil, err
	}

	refDoParts := [][]byte{aidRefTLV}
	if len(hash.Hash) != 0 {
		refDoParts = append(refDoParts, tlv.EncodeTLV(0xC1, hash.Hash))
	}
	e1 := tlv.EncodeTLV(0xE1, concat(refDoParts...))

	arDo := concat(
		tlv.EncodeTLV(0xD0, []byte{apduPermByte(access)}),
		tlv.EncodeTLV(0xDB, permBitmask(access)),
	)
	e3 := tlv.EncodeTLV(0xE3, arDo)

	return tlv.EncodeTLV(0xE2, concat(e1, e3)), nil
}

func encodeAidRef(ref AidRef) ([]byte, error) {
	switch ref.Kind {
	case AidRefSpecific:
		if len(ref.AID) == 0 {
			return nil, &seaerr.ParameterError{Field: "AidRef.AID", Reason: "specific aidRef requires a non-empty AID"}
		}
		return tlv.EncodeTLV(0x4F, ref.AID), nil
	case AidRefDefaultSentinel:
		return tlv.EncodeTLV(0xC0, nil), nil
	case AidRefForDefault:
		return tlv.EncodeTLV(0x81, nil), nil
	case AidRefForAll:
		return tlv.EncodeTLV(0x82, nil), nil
	default:
		return nil, &seaerr.ParameterError{Field: "AidRef.Kind", Reason: "unknown aidRef kind"}
	}
}

// apduPermByte renders ApduAccess as an APDU-AR-DO byte: 0x01 means ALWAYS
// allow, 0x00 means NEVER allow (filter-scoped permission is signaled by
// UseApduFilter and carried only in the PERM-AR-DO bitmask, which this
// encoder leaves as a marker bit since ARA-M has no standard filter DO).
func apduPermByte(access ChannelAccess) byte {
	if access.ApduAccess == Allowed {
		return 0x01
	}
	return 0x00
}

// permBitmask renders channel/NFC access and the filter flag into an
// 8-byte PERM-AR-DO bitmask: bit 0 of the last byte is channel access, bit
// 1 is NFC-event access, bit 2 is "uses an APDU filter".
func permBitmask(access ChannelAccess) []byte {
	perm := make([]byte, 8)
	var last byte
	if access.Access == Allowed {
		last |= 0x01
	}
	if access.NfcEventAccess == Allowed {
		last |= 0x02
	}
	if access.UseApduFilter {
		last |= 0x04
	}
	perm[7] = last
	return perm
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
