package ace

import (
	"fmt"

	"github.com/barnettlynn/seaccess/pkg/apdu"
)

// Describe renders sw as a short human-readable phrase, mirroring the
// SWToString status-word table pattern: a lookup over the named status
// words, falling back to the 61xx/6Cxx/63Cx auxiliary forms, then "unknown
// status word". Used by secli's diagnostic transmit command; apdu.Describe
// stays a bare "0x%04X" quote
// for wire-level error messages, this is the operator-facing text.
func Describe(sw uint16) string {
	switch sw {
	case apdu.SWOK:
		return "Success"
	case apdu.SWWrongLengthExact:
		return "Wrong length"
	case apdu.SWMemoryFailure:
		return "Memory failure"
	case apdu.SWSecurityNotSatisfied:
		return "Security status not satisfied"
	case apdu.SWAuthMethodBlocked:
		return "Authentication method blocked"
	case apdu.SWRefDataNotUsable:
		return "Reference data not usable"
	case apdu.SWCommandNotAllowed:
		return "Conditions of use not satisfied"
	case apdu.SWWrongData:
		return "Wrong data"
	case apdu.SWFuncNotSupported:
		return "Function not supported"
	case apdu.SWFileNotFound:
		return "File not found"
	case apdu.SWRecordNotFound:
		return "Record not found"
	case apdu.SWNotEnoughMemory:
		return "Not enough memory"
	case apdu.SWWrongP1P2:
		return "Incorrect P1/P2"
	case apdu.SWCommandIncompatible:
		return "Command incompatible with file structure"
	case apdu.SWRefNotFound:
		return "Referenced data not found"
	case apdu.SWInsNotSupported:
		return "Instruction not supported"
	case apdu.SWClaNotSupported:
		return "Class not supported"
	default:
		sw1 := byte(sw >> 8)
		sw2 := byte(sw)
		switch {
		case sw1 == 0x61:
			return fmt.Sprintf("%d bytes available via GET RESPONSE", sw2)
		case sw1 == 0x6C:
			return fmt.Sprintf("wrong Le, retry with Le=%d", sw2)
		case sw1 == 0x63 && sw2&0xF0 == 0xC0:
			return fmt.Sprintf("warning, %d retries remaining", sw2&0x0F)
		default:
			return "unknown status word"
		}
	}
}
