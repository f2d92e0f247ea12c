package apdu

// ChainedEnvelope splits a long command into successive ENVELOPE (INS=0xC2)
// commands for transports that cannot carry extended length: each chunk
// preserves CLA, sets P1=P2=0x00 and carries up to 255 data bytes, and the
// final chunk is a zero-data ENVELOPE whose purpose is to fetch the
// response. longCommand's own CLA/P1/P2/Le are not otherwise representable
// in the chain and are expected to have been folded into the data already
// (the full command APDU bytes, built by Encode, are the payload).
func ChainedEnvelope(cla byte, longCommand []byte) [][]byte {
	const chunkSize = 255

	if len(longCommand) == 0 {
		return [][]byte{{cla, 0xC2, 0x00, 0x00}}
	}

	var chunks [][]byte
	for off := 0; off < len(longCommand); off += chunkSize {
		end := off + chunkSize
		if end > len(longCommand) {
			end = len(longCommand)
		}
		part := longCommand[off:end]
		chunk := make([]byte, 0, 5+len(part))
		chunk = append(chunk, cla, 0xC2, 0x00, 0x00, byte(len(part)))
		chunk = append(chunk, part...)
		chunks = append(chunks, chunk)
	}
	// Final zero-data ENVELOPE fetches the response.
	chunks = append(chunks, []byte{cla, 0xC2, 0x00, 0x00})
	return chunks
}
