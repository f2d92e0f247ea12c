//go:build linux
// +build linux

package client

import (
	"net"

	"golang.org/x/sys/unix"
)

// UnixSocketResolver resolves PeerCredentials from a Unix domain socket
// connection via SO_PEERCRED.
type UnixSocketResolver struct {
	Conn *net.UnixConn
}

func (r UnixSocketResolver) PeerCredentials() (PeerCredentials, error) {
	raw, err := r.Conn.SyscallConn()
	if err != nil {
		return PeerCredentials{}, err
	}

	var cred *unix.Ucred
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		cred, ctrlErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCredentials{}, err
	}
	if ctrlErr != nil {
		return PeerCredentials{}, ctrlErr
	}

	return PeerCredentials{Pid: cred.Pid, Uid: cred.Uid}, nil
}
