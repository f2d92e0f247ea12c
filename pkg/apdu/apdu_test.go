package apdu

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
	}{
		{"case1", Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00}},
		{"case2S", Command{CLA: 0x00, INS: 0xC0, HasLe: true, Le: 256}},
		{"case2S-small-le", Command{CLA: 0x00, INS: 0xC0, HasLe: true, Le: 16}},
		{"case3S", Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: []byte{0x01, 0x02, 0x03}}},
		{"case4S", Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: []byte{0x01, 0x02, 0x03}, HasLe: true, Le: 256}},
		{"case2E", Command{CLA: 0x00, INS: 0xC0, HasLe: true, Le: 65536}},
		{"case3E-forced", Command{CLA: 0x00, INS: 0xDA, Data: []byte{0x01, 0x02}, Extended: true}},
		{"case3E-long-data", Command{CLA: 0x00, INS: 0xDA, Data: make([]byte, 300)}},
		{"case4E", Command{CLA: 0x00, INS: 0xDA, Data: make([]byte, 300), HasLe: true, Le: 65536}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := Encode(tc.cmd)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.CLA != tc.cmd.CLA || got.INS != tc.cmd.INS || got.P1 != tc.cmd.P1 || got.P2 != tc.cmd.P2 {
				t.Fatalf("header mismatch: got %+v, want %+v", got, tc.cmd)
			}
			if len(got.Data) != len(tc.cmd.Data) {
				t.Fatalf("data length mismatch: got %d, want %d", len(got.Data), len(tc.cmd.Data))
			}
			if got.HasLe != tc.cmd.HasLe {
				t.Fatalf("HasLe mismatch: got %v, want %v", got.HasLe, tc.cmd.HasLe)
			}
			if got.HasLe && got.Le != tc.cmd.Le {
				t.Fatalf("Le mismatch: got %d, want %d", got.Le, tc.cmd.Le)
			}
		})
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	if _, err := Decode([]byte{0x00, 0xA4, 0x04}); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	// Lc says 3 bytes of data, but only 2 follow.
	raw := []byte{0x00, 0xA4, 0x04, 0x00, 0x03, 0x01, 0x02}
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for Lc/data mismatch")
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte{0x01, 0x02, 0x90, 0x00})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0] != 0x01 || resp.Data[1] != 0x02 {
		t.Fatalf("unexpected data: %v", resp.Data)
	}
	if resp.SW() != 0x9000 {
		t.Fatalf("expected SW 0x9000, got 0x%04X", resp.SW())
	}
}

func TestParseResponseRejectsShort(t *testing.T) {
	if _, err := ParseResponse([]byte{0x00}); err == nil {
		t.Fatalf("expected error for response shorter than 2 bytes")
	}
}

func TestEncodeRejectsOversizedData(t *testing.T) {
	cmd := Command{CLA: 0x00, INS: 0xDA, Data: make([]byte, maxExtData+1)}
	if _, err := Encode(cmd); err == nil {
		t.Fatalf("expected error for data exceeding extended max")
	}
}
