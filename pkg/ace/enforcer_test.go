package ace

import "testing"

func TestSetupChannelAccessFailsClosedWhenCacheEmpty(t *testing.T) {
	e := NewEnforcer(NewCache(), true)
	access := e.SetupChannelAccess(CallerIdentity{Pid: 42, PackageName: "com.example"}, []byte{0x01})
	if access.Access != AccessDenied {
		t.Fatalf("expected fail-closed denial, got %+v", access)
	}
	if access.CallingPid != 42 || access.PackageName != "com.example" {
		t.Fatalf("expected caller identity attached to decision, got %+v", access)
	}
}

func TestSetupChannelAccessAllowsWhenFailOpenAndEmpty(t *testing.T) {
	e := NewEnforcer(NewCache(), false)
	access := e.SetupChannelAccess(CallerIdentity{}, []byte{0x01})
	if access.Access != Allowed {
		t.Fatalf("expected allowed when ace disabled and fail-open, got %+v", access)
	}
}

func TestSetupChannelAccessUsesCacheLookup(t *testing.T) {
	c := NewCache()
	c.PutRule([]byte{0x01}, []byte{0xAA}, ChannelAccess{Access: Allowed, ApduAccess: Allowed, NfcEventAccess: Allowed})
	e := NewEnforcer(c, true)

	access := e.SetupChannelAccess(CallerIdentity{CertHashes: [][]byte{{0xAA}}}, []byte{0x01})
	if access.Access != Allowed {
		t.Fatalf("expected allowed, got %+v", access)
	}
}

func TestCheckCommandRejectsWhenChannelDenied(t *testing.T) {
	err := CheckCommand(Denied("no rule"), [4]byte{0x00, 0xA4, 0x04, 0x00})
	if err == nil {
		t.Fatalf("expected error for denied channel access")
	}
}

func TestCheckCommandAllowsWhenNoFilter(t *testing.T) {
	access := ChannelAccess{Access: Allowed, ApduAccess: Allowed}
	if err := CheckCommand(access, [4]byte{0x00, 0xA4, 0x04, 0x00}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckCommandAppliesFilter(t *testing.T) {
	access := ChannelAccess{
		Access:        Allowed,
		ApduAccess:    Allowed,
		UseApduFilter: true,
		ApduFilter: []ApduFilter{
			{Header: [4]byte{0x00, 0xA4, 0x00, 0x00}, Mask: [4]byte{0xFF, 0xFF, 0x00, 0x00}},
		},
	}
	if err := CheckCommand(access, [4]byte{0x00, 0xA4, 0x04, 0x00}); err != nil {
		t.Fatalf("expected filter match to allow, got %v", err)
	}
	if err := CheckCommand(access, [4]byte{0x00, 0xB0, 0x00, 0x00}); err == nil {
		t.Fatalf("expected filter mismatch to deny")
	}
}

func TestCheckNfcEventRespectsAccess(t *testing.T) {
	allowed := ChannelAccess{Access: Allowed, NfcEventAccess: Allowed}
	if err := CheckNfcEvent(allowed); err != nil {
		t.Fatalf("expected nfc event allowed, got %v", err)
	}
	denied := ChannelAccess{Access: Allowed, NfcEventAccess: AccessDenied}
	if err := CheckNfcEvent(denied); err == nil {
		t.Fatalf("expected nfc event denied")
	}
}
