// Package ipc is the concrete binding of the Client Façade (C10) onto a
// local transport: a Unix domain socket, one connection per client, with
// the caller's PID resolved from SO_PEERCRED rather than trusted from the
// wire. spec.md treats the platform's client-binding mechanism (Android
// Binder, in the original) as an external collaborator; this is the
// PC/SC-host equivalent.
package ipc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/client"
)

// request is one line of the newline-delimited JSON protocol a connected
// client speaks. Each Op reads only the fields it needs and ignores the
// rest.
type request struct {
	Op          string   `json:"op"`
	PackageName string   `json:"package_name,omitempty"`
	CertHashes  []string `json:"cert_hashes,omitempty"` // hex-encoded
	Reader      string   `json:"reader,omitempty"`
	AID         string   `json:"aid,omitempty"` // hex-encoded, omitted means nil
	P2          byte     `json:"p2,omitempty"`
	Channel     string   `json:"channel,omitempty"`
	APDU        string   `json:"apdu,omitempty"` // hex-encoded command APDU
}

type response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	APDU    string `json:"apdu,omitempty"` // hex-encoded response APDU
}

// Server binds a Facade to a Unix domain socket.
type Server struct {
	facade *client.Facade
}

// NewServer builds a Server over facade.
func NewServer(facade *client.Facade) *Server {
	return &Server{facade: facade}
}

// ListenAndServe removes any stale socket at path, listens, and serves
// connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", path, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipc: accept: %w", err)
			}
		}
		uc, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		go s.handleConn(ctx, uc)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	resolver := client.UnixSocketResolver{Conn: conn}
	peer, err := resolver.PeerCredentials()
	if err != nil {
		slog.Warn("ipc: peer credential resolution failed", "err", err)
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	var handle client.Handle
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			encoder.Encode(response{OK: false, Error: "malformed request: " + err.Error()})
			continue
		}

		if req.Op == "hello" {
			certHashes, err := decodeHashes(req.CertHashes)
			if err != nil {
				encoder.Encode(response{OK: false, Error: err.Error()})
				continue
			}
			h, err := s.facade.Connect(peer.Pid, req.PackageName, certHashes)
			if err != nil {
				encoder.Encode(response{OK: false, Error: err.Error()})
				continue
			}
			handle = h
			encoder.Encode(response{OK: true, Channel: string(h)})
			continue
		}

		if handle == "" {
			encoder.Encode(response{OK: false, Error: "client has not sent hello"})
			continue
		}

		resp, err := s.dispatch(ctx, handle, req)
		if err != nil {
			encoder.Encode(response{OK: false, Error: err.Error()})
			continue
		}
		encoder.Encode(resp)
	}

	if handle != "" {
		_ = s.facade.Disconnect(ctx, handle)
	}
}

func (s *Server) dispatch(ctx context.Context, handle client.Handle, req request) (response, error) {
	switch req.Op {
	case "open_logical":
		aid, err := decodeOptionalHex(req.AID)
		if err != nil {
			return response{}, err
		}
		ch, err := s.facade.OpenLogicalChannel(ctx, handle, req.Reader, aid, req.P2)
		if err != nil {
			return response{}, err
		}
		return response{OK: true, Channel: string(ch)}, nil

	case "open_basic":
		aid, err := decodeOptionalHex(req.AID)
		if err != nil {
			return response{}, err
		}
		ch, err := s.facade.OpenBasicChannel(ctx, handle, req.Reader, aid)
		if err != nil {
			return response{}, err
		}
		return response{OK: true, Channel: string(ch)}, nil

	case "transmit":
		raw, err := hex.DecodeString(req.APDU)
		if err != nil {
			return response{}, fmt.Errorf("invalid apdu hex: %w", err)
		}
		cmd, err := apdu.Decode(raw)
		if err != nil {
			return response{}, err
		}
		resp, err := s.facade.Transmit(ctx, handle, client.Handle(req.Channel), cmd)
		if err != nil {
			return response{}, err
		}
		out := append(append([]byte{}, resp.Data...), resp.SW1, resp.SW2)
		return response{OK: true, APDU: hex.EncodeToString(out)}, nil

	case "close":
		if err := s.facade.CloseChannel(ctx, handle, client.Handle(req.Channel)); err != nil {
			return response{}, err
		}
		return response{OK: true}, nil

	default:
		return response{}, fmt.Errorf("unknown op %q", req.Op)
	}
}

func decodeOptionalHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func decodeHashes(hashes []string) ([][]byte, error) {
	out := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid cert hash hex: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}
