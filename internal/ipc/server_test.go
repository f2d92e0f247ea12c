package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/barnettlynn/seaccess/pkg/client"
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

func startTestServer(t *testing.T) (socketPath string, cancel context.CancelFunc) {
	t.Helper()
	fake := terminal.NewFake()
	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x01}
	fake.SelectResponses[hexKey(aid)] = []byte{0x90, 0x00}
	fake.Script[hexKey([]byte{0x01, 0xB0, 0x00, 0x00, 0x00})] = []byte{0xAA, 0x90, 0x00}

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

	facade := client.New(reg, false)
	srv := NewServer(facade)

	socketPath = filepath.Join(t.TempDir(), "seaccessd.sock")
	ctx, cancelFn := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx, socketPath)

	// Give the listener a moment to bind.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return socketPath, cancelFn
}

func roundTrip(t *testing.T, w *json.Encoder, r *bufio.Scanner, req request) response {
	t.Helper()
	if err := w.Encode(req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !r.Scan() {
		t.Fatalf("scan: %v", r.Err())
	}
	var resp response
	if err := json.Unmarshal(r.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestServerFullLifecycle(t *testing.T) {
	socketPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)

	hello := roundTrip(t, enc, scanner, request{Op: "hello", PackageName: "com.example.app"})
	if !hello.OK || hello.Channel == "" {
		t.Fatalf("hello failed: %+v", hello)
	}

	open := roundTrip(t, enc, scanner, request{Op: "open_logical", Reader: "OTHER1", AID: "A000000001"})
	if !open.OK || open.Channel == "" {
		t.Fatalf("open_logical failed: %+v", open)
	}

	xmit := roundTrip(t, enc, scanner, request{Op: "transmit", Channel: open.Channel, APDU: "00B0000000"})
	if !xmit.OK || xmit.APDU != "aa9000" {
		t.Fatalf("transmit failed: %+v", xmit)
	}

	closeResp := roundTrip(t, enc, scanner, request{Op: "close", Channel: open.Channel})
	if !closeResp.OK {
		t.Fatalf("close failed: %+v", closeResp)
	}
}

func TestServerRejectsOpsBeforeHello(t *testing.T) {
	socketPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)

	resp := roundTrip(t, enc, scanner, request{Op: "open_logical", Reader: "OTHER1"})
	if resp.OK {
		t.Fatalf("expected rejection before hello")
	}
}
