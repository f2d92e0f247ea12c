package ace

import (
	"testing"

	"github.com/barnettlynn/seaccess/pkg/tlv"
)

func TestEncodeStoreDataRoundTripsAidAndHash(t *testing.T) {
	ref := AidRef{Kind: AidRefSpecific, AID: []byte{0xA0, 0x01}}
	hash := HashRef{Hash: []byte{0xAA, 0xBB}}
	access := ChannelAccess{Access: Allowed, ApduAccess: Allowed, NfcEventAccess: Allowed}

	out, err := EncodeStoreData(ref, hash, access)
	if err != nil {
		t.Fatalf("EncodeStoreData: %v", err)
	}

	top, err := tlv.ParseNext(out, 0)
	if err != nil || top.Tag != 0xE2 {
		t.Fatalf("expected top-level E2 tag, got %+v err=%v", top, err)
	}

	nodes, err := tlv.DecodeSequence(top.Value)
	if err != nil || len(nodes) != 2 || nodes[0].Tag != 0xE1 || nodes[1].Tag != 0xE3 {
		t.Fatalf("expected E1 then E3, got %+v err=%v", nodes, err)
	}

	e1Inner, err := tlv.DecodeSequence(nodes[0].Value)
	if err != nil || len(e1Inner) != 2 || e1Inner[0].Tag != 0x4F || e1Inner[1].Tag != 0xC1 {
		t.Fatalf("expected AID-REF-DO then DeviceAppID-REF-DO, got %+v err=%v", e1Inner, err)
	}
	if string(e1Inner[0].Value) != string(ref.AID) {
		t.Fatalf("AID mismatch: got %x want %x", e1Inner[0].Value, ref.AID)
	}
}

func TestEncodeStoreDataRejectsEmptySpecificAID(t *testing.T) {
	_, err := EncodeStoreData(AidRef{Kind: AidRefSpecific}, HashRef{}, ChannelAccess{})
	if err == nil {
		t.Fatalf("expected error for empty specific AID")
	}
}
