package engine

import (
	"context"
	"testing"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/reader"
	"github.com/barnettlynn/seaccess/pkg/terminal"
)

func hexKey(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0F]
	}
	return string(out)
}

func newTestReader(t *testing.T, fake *terminal.Fake) *reader.Reader {
	t.Helper()
	reg, err := reader.NewRegistry([]reader.Candidate{
		{
			Kind:        reader.KindOther,
			Permissions: map[reader.Permission]bool{reader.PermBindTerminal: true},
			Open:        func() (terminal.Terminal, error) { return fake, nil },
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r, err := reg.GetReader("OTHER1")
	if err != nil {
		t.Fatalf("GetReader: %v", err)
	}
	return r
}

var allowed = ace.ChannelAccess{Access: ace.Allowed, ApduAccess: ace.Allowed, NfcEventAccess: ace.Allowed}

func TestOpenBasicChannelRequiresDefaultAppSelected(t *testing.T) {
	fake := terminal.NewFake()
	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ch, err := s.OpenBasicChannel(context.Background(), nil, allowed, 100)
	if err != nil {
		t.Fatalf("OpenBasicChannel: %v", err)
	}
	if ch != nil {
		t.Fatalf("expected nil channel when default app not selected")
	}

	r.SetDefaultApplicationSelected(true)
	ch, err = s.OpenBasicChannel(context.Background(), nil, allowed, 100)
	if err != nil {
		t.Fatalf("OpenBasicChannel: %v", err)
	}
	if ch == nil || !ch.IsBasic {
		t.Fatalf("expected a basic channel")
	}
}

func TestOpenLogicalChannelDeniedAccessFailsBeforeDriverCall(t *testing.T) {
	fake := terminal.NewFake()
	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	_, err = s.OpenLogicalChannel(context.Background(), []byte{0xA0, 0x01}, 0x00, ace.Denied("no rule"), 100)
	if err == nil {
		t.Fatalf("expected denial before driver call")
	}
}

func TestOpenLogicalChannelAndTransmitDrainsGetResponse(t *testing.T) {
	fake := terminal.NewFake()
	aid := []byte{0xA0, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ch, err := s.OpenLogicalChannel(context.Background(), aid, 0x00, allowed, 100)
	if err != nil {
		t.Fatalf("OpenLogicalChannel: %v", err)
	}
	if ch == nil {
		t.Fatalf("expected a channel")
	}

	cla := apdu.SetChannelBits(0x00, ch.Number)
	firstCmd := []byte{cla, 0xB0, 0x00, 0x00, 0x00} // Le=0x00 means "as many as possible"
	fake.Script[hexKey(firstCmd)] = []byte{0x61, 0x05}

	getResp := []byte{cla, 0xC0, 0x00, 0x00, 0x05}
	fake.Script[hexKey(getResp)] = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x90, 0x00}

	resp, err := s.Transmit(context.Background(), ch, apdu.Command{CLA: 0x00, INS: 0xB0, P1: 0x00, P2: 0x00, HasLe: true, Le: apdu.LeMax}, 100)
	if err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if resp.SW() != apdu.SWOK {
		t.Fatalf("expected final SW 9000, got %04X", resp.SW())
	}
	if len(resp.Data) != 5 || resp.Data[4] != 0x05 {
		t.Fatalf("expected accumulated GET RESPONSE data, got %x", resp.Data)
	}
}

func TestTransmitRejectsWrongOwnerPid(t *testing.T) {
	fake := terminal.NewFake()
	aid := []byte{0xA0, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ch, err := s.OpenLogicalChannel(context.Background(), aid, 0x00, allowed, 100)
	if err != nil {
		t.Fatalf("OpenLogicalChannel: %v", err)
	}

	_, err = s.Transmit(context.Background(), ch, apdu.Command{CLA: 0x00, INS: 0xB0, P1: 0x00, P2: 0x00}, 999)
	if err == nil {
		t.Fatalf("expected rejection for mismatched PID")
	}
}

func TestTransmitRejectsForbiddenCommand(t *testing.T) {
	fake := terminal.NewFake()
	aid := []byte{0xA0, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ch, err := s.OpenLogicalChannel(context.Background(), aid, 0x00, allowed, 100)
	if err != nil {
		t.Fatalf("OpenLogicalChannel: %v", err)
	}

	_, err = s.Transmit(context.Background(), ch, apdu.Command{CLA: 0x00, INS: 0x70, P1: 0x00, P2: 0x00}, 100)
	if err == nil {
		t.Fatalf("expected MANAGE CHANNEL to be rejected as forbidden")
	}
}

func TestCloseBasicChannelSendsBestEffortDeselect(t *testing.T) {
	fake := terminal.NewFake()
	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	r.SetDefaultApplicationSelected(true)
	ch, err := s.OpenBasicChannel(context.Background(), nil, allowed, 100)
	if err != nil {
		t.Fatalf("OpenBasicChannel: %v", err)
	}
	if ch == nil {
		t.Fatalf("expected a basic channel")
	}

	deselect := []byte{0x00, 0xA4, 0x00, 0x0C}
	fake.Script[hexKey(deselect)] = []byte{0x90, 0x00}

	r.SetDefaultApplicationSelected(false) // simulate a specific AID having been selected meanwhile
	if err := s.Close(context.Background(), ch); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !r.DefaultApplicationSelected() {
		t.Fatalf("expected a successful deselect to restore default-application-selected")
	}
}

func TestCloseBasicChannelToleratesDeselectFailure(t *testing.T) {
	fake := terminal.NewFake()
	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	r.SetDefaultApplicationSelected(true)
	ch, err := s.OpenBasicChannel(context.Background(), nil, allowed, 100)
	if err != nil {
		t.Fatalf("OpenBasicChannel: %v", err)
	}
	if ch == nil {
		t.Fatalf("expected a basic channel")
	}

	// No script entry for the deselect APDU: Fake's default response is
	// 6A88 (REF_NOT_FOUND), a failure the close must swallow rather than
	// surface.
	if err := s.Close(context.Background(), ch); err != nil {
		t.Fatalf("Close should tolerate a failed deselect, got %v", err)
	}
	if r.BasicChannelInUse() {
		t.Fatalf("expected the basic channel slot to be released regardless of deselect outcome")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := terminal.NewFake()
	aid := []byte{0xA0, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	r := newTestReader(t, fake)
	s, err := NewSession(context.Background(), r)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ch, err := s.OpenLogicalChannel(context.Background(), aid, 0x00, allowed, 100)
	if err != nil {
		t.Fatalf("OpenLogicalChannel: %v", err)
	}

	if err := s.Close(context.Background(), ch); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(context.Background(), ch); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
