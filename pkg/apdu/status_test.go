package apdu

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		sw    uint16
		class SwClass
		extra int
	}{
		{0x9000, ClassOK, 0},
		{0x6281, ClassWarning62xx, 0},
		{0x6300, ClassWarning63xx, 0},
		{0x63C5, ClassWarning63xx, 5},
		{0x6112, ClassGetResponseAvailable, 0x12},
		{0x6C20, ClassWrongLe, 0x20},
		{0x6A88, ClassRefNotFound, 0},
		{0x6982, ClassSecurityNotSatisfied, 0},
		{0x6A81, ClassFuncNotSupported, 0},
		{0x6D00, ClassInsNotSupported, 0},
		{0x6A86, ClassWrongP1P2, 0},
		{0x6581, ClassMemoryFailure, 0},
		{0x6A84, ClassNotEnoughMemory, 0},
		{0x6A82, ClassFileNotFound, 0},
		{0x6A83, ClassRecordNotFound, 0},
		{0x6983, ClassAuthMethodBlocked, 0},
		{0x6984, ClassRefDataNotUsable, 0},
		{0x6A87, ClassCommandIncompatible, 0},
		{0x6985, ClassCommandNotAllowed, 0},
		{0x6700, ClassWrongLength, 0},
		{0x6A80, ClassWrongData, 0},
		{0x6F00, ClassOther, 0},
	}

	for _, tc := range cases {
		class, extra := Classify(tc.sw)
		if class != tc.class {
			t.Fatalf("SW 0x%04X: got class %v, want %v", tc.sw, class, tc.class)
		}
		if extra != tc.extra {
			t.Fatalf("SW 0x%04X: got extra %d, want %d", tc.sw, extra, tc.extra)
		}
	}
}

func TestIsSuccessLike(t *testing.T) {
	for _, sw := range []uint16{0x9000, 0x6283, 0x6310} {
		if !IsSuccessLike(sw) {
			t.Fatalf("expected 0x%04X to be success-like", sw)
		}
	}
	if IsSuccessLike(0x6A82) {
		t.Fatalf("0x6A82 must not be success-like")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(0x9000); got != "0x9000" {
		t.Fatalf("expected 0x9000, got %s", got)
	}
}
