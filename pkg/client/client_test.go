package client

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

func newTestRegistry(t *testing.T, fake *terminal.Fake) *reader.Registry {
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
	return reg
}

func TestConnectAndDisconnectLifecycle(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, false)

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	chHandle, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", aid, 0x00)
	if err != nil {
		t.Fatalf("OpenLogicalChannel: %v", err)
	}
	if chHandle == "" {
		t.Fatalf("expected a channel handle")
	}

	if err := f.Disconnect(context.Background(), h); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// A second disconnect of the same handle fails: it is gone.
	if err := f.Disconnect(context.Background(), h); err == nil {
		t.Fatalf("expected disconnecting an unknown handle to fail")
	}
}

func TestOpenLogicalChannelRejectsInvalidAID(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, false)

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", []byte{0x01, 0x02}, 0x00); err == nil {
		t.Fatalf("expected rejection of a too-short AID")
	}
}

func TestOpenLogicalChannelDeniedByFailClosedEmptyCache(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, true) // ace_fail_closed

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	if _, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", aid, 0x00); err == nil {
		t.Fatalf("expected fail-closed denial with an uninitialized cache")
	}
}

func TestOpenLogicalChannelAllowedByFailOpenEmptyCache(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, false) // ace_fail_closed == false

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	if _, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", aid, 0x00); err != nil {
		t.Fatalf("expected fail-open to allow with an uninitialized cache: %v", err)
	}
}

func TestOpenLogicalChannelUsesCacheRule(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, true)

	r, err := reg.GetReader("OTHER1")
	if err != nil {
		t.Fatalf("GetReader: %v", err)
	}
	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x01}
	r.Cache().PutRule(aid, nil, ace.Denied("not entitled"))

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}

	if _, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", aid, 0x00); err == nil {
		t.Fatalf("expected denial from the cached rule")
	}
}

func TestTransmitAndCloseChannel(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, false)

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}
	chHandle, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", aid, 0x00)
	if err != nil {
		t.Fatalf("OpenLogicalChannel: %v", err)
	}

	cmd := apdu.Command{CLA: 0x00, INS: 0x70, P1: 0x00, P2: 0x00}
	if _, err := f.Transmit(context.Background(), h, chHandle, cmd); err == nil {
		t.Fatalf("expected MANAGE CHANNEL to be rejected as forbidden")
	}

	if err := f.CloseChannel(context.Background(), h, chHandle); err != nil {
		t.Fatalf("CloseChannel: %v", err)
	}
	// A closed channel handle is forgotten; transmitting on it now fails.
	if _, err := f.Transmit(context.Background(), h, chHandle, cmd); err == nil {
		t.Fatalf("expected transmit on a closed channel handle to fail")
	}
}

func TestShutdownRejectsFurtherCalls(t *testing.T) {
	fake := terminal.NewFake()
	reg := newTestRegistry(t, fake)
	f := New(reg, false)

	h, err := f.Connect(100, "com.example.app", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f.Shutdown(context.Background())

	if _, err := f.OpenLogicalChannel(context.Background(), h, "OTHER1", nil, 0x00); err == nil {
		t.Fatalf("expected calls after Shutdown to fail")
	}
	if _, err := f.Connect(200, "com.example.other", nil); err == nil {
		t.Fatalf("expected Connect after Shutdown to fail")
	}
}
