package apdu

// IsForbidden reports whether cmd must never reach the Terminal Driver on a
// client-facing transmit: MANAGE CHANNEL (the core allocates channels
// itself) and SELECT by DF name (P1=0x04, which a client could use to
// bypass channel-open access-control checks).
func IsForbidden(cmd Command) bool {
	if cmd.INS == 0x70 {
		return true
	}
	if cmd.INS == 0xA4 && cmd.P1 == 0x04 {
		return true
	}
	return false
}
